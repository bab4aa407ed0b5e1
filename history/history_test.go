package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlauy/ghome-bridge/report"
)

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestNotify(t *testing.T) {
	writer := &writerMock{}
	recorder := &Recorder{writer: writer, measurement: "device_state", now: func() time.Time { return at }}

	err := recorder.Notify(context.Background(), report.Notification{
		AgentUserID: "123",
		States: map[string]map[string]any{
			"washer1": {
				"on":              true,
				"online":          true,
				"currentRunCycle": []any{map[string]any{"currentCycle": "rinse"}},
			},
			"lamp": {"brightness": 40},
		},
	})

	require.NoError(t, err)
	require.Len(t, writer.points, 2)

	lamp := writer.points[0]
	assert.Equal(t, "device_state", lamp.Name())
	assert.Equal(t, at, lamp.Time())
	assert.Equal(t, map[string]string{"agent_user_id": "123", "device_id": "lamp"}, tags(lamp))
	assert.Equal(t, map[string]any{"brightness": int64(40)}, fields(lamp))

	washer := writer.points[1]
	assert.Equal(t, map[string]any{"on": true, "online": true}, fields(washer))
}

func TestNotifyBroadcastHasNoUserTag(t *testing.T) {
	writer := &writerMock{}
	recorder := &Recorder{writer: writer, measurement: "device_state", now: func() time.Time { return at }}

	err := recorder.Notify(context.Background(), report.Notification{
		States: map[string]map[string]any{"lamp": {"on": true}},
	})

	require.NoError(t, err)
	require.Len(t, writer.points, 1)
	assert.Equal(t, map[string]string{"device_id": "lamp"}, tags(writer.points[0]))
}

func TestNotifySkipsStatesWithoutScalars(t *testing.T) {
	writer := &writerMock{}
	recorder := &Recorder{writer: writer, measurement: "device_state", now: time.Now}

	err := recorder.Notify(context.Background(), report.Notification{
		States: map[string]map[string]any{"washer1": {"currentRunCycle": []any{}}},
	})

	require.NoError(t, err)
	assert.Empty(t, writer.points)
}

func TestNotifyWriteFailure(t *testing.T) {
	writer := &writerMock{err: errors.New("bucket not found")}
	recorder := &Recorder{writer: writer, measurement: "device_state", now: time.Now}

	err := recorder.Notify(context.Background(), report.Notification{
		States: map[string]map[string]any{"lamp": {"on": true}},
	})

	assert.EqualError(t, err, "failed to write state history: bucket not found")
}

type writerMock struct {
	err    error
	points []*write.Point
}

func (w *writerMock) WritePoint(ctx context.Context, point ...*write.Point) error {
	if w.err != nil {
		return w.err
	}
	w.points = append(w.points, point...)
	return nil
}

func tags(point *write.Point) map[string]string {
	result := map[string]string{}
	for _, tag := range point.TagList() {
		result[tag.Key] = tag.Value
	}
	return result
}

func fields(point *write.Point) map[string]any {
	result := map[string]any{}
	for _, field := range point.FieldList() {
		result[field.Key] = field.Value
	}
	return result
}
