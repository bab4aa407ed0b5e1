package history

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sort"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/mrlauy/ghome-bridge/config"
	"github.com/mrlauy/ghome-bridge/report"
)

const connectTimeout = 10 * time.Second

var ErrConnectionFailed = errors.New("influxdb connection failed")

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Recorder writes every reported device state as a point to InfluxDB.
type Recorder struct {
	client      influxdb2.Client
	writer      pointWriter
	measurement string
	now         func() time.Time
}

func Connect(cfg config.HistoryConfig) (*Recorder, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	log.Info("connected to influxdb", "url", cfg.URL, "bucket", cfg.Bucket)
	return &Recorder{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
		now:         time.Now,
	}, nil
}

func (r *Recorder) Notify(ctx context.Context, notification report.Notification) error {
	ids := make([]string, 0, len(notification.States))
	for id := range notification.States {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := r.now()
	points := make([]*write.Point, 0, len(ids))
	for _, id := range ids {
		fields := scalarFields(notification.States[id])
		if len(fields) == 0 {
			continue
		}
		tags := map[string]string{"device_id": id}
		if notification.AgentUserID != "" {
			tags["agent_user_id"] = notification.AgentUserID
		}
		points = append(points, influxdb2.NewPoint(r.measurement, tags, fields, now))
	}
	if len(points) == 0 {
		return nil
	}

	if err := r.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write state history: %w", err)
	}
	return nil
}

func (r *Recorder) Close() {
	if r.client != nil {
		r.client.Close()
	}
}

// scalarFields keeps the values a line protocol field can hold.
func scalarFields(state map[string]any) map[string]any {
	fields := map[string]any{}
	for key, value := range state {
		switch value.(type) {
		case bool, string, int, int64, float64:
			fields[key] = value
		}
	}
	return fields
}
