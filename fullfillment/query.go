package fullfillment

import (
	"context"
	log "log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mrlauy/ghome-bridge/lists"
)

type QueryResponse struct {
	RequestID string       `json:"requestId"` // Required. ID of the corresponding request.
	Payload   QueryPayload `json:"payload"`   // Required. Intent response payload.
}

type QueryPayload struct {
	Devices     map[string]map[string]any `json:"devices"`               // Required. Maps developer device ID to object of state properties.
	ErrorCode   string                    `json:"errorCode,omitempty"`   // An error code for the entire transaction. For individual device errors use the errorCode within the device object.
	DebugString string                    `json:"debugString,omitempty"` // Detailed error which will never be presented to users but may be logged or used during development.
}

// query reads the state of every requested device. Unknown devices fail on their own entry only.
func (f *Fullfillment) query(ctx context.Context, requestId string, payload PayloadRequest) QueryResponse {
	ids := uniqueIds(payload.Devices)
	log.Info("handle query request", "request", requestId, "devices", ids)

	results := make([]map[string]any, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			results[i] = f.queryDevice(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	devices := make(map[string]map[string]any, len(ids))
	for i, id := range ids {
		devices[id] = results[i]
	}

	return QueryResponse{
		RequestID: requestId,
		Payload: QueryPayload{
			Devices: devices,
		},
	}
}

func (f *Fullfillment) queryDevice(ctx context.Context, id string) (result map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("query panicked", "device", id, "panic", r)
			result = map[string]any{"online": false, "status": string(Error), "errorCode": "hardError"}
		}
	}()

	state, err := f.store.Get(ctx, id)
	if err != nil {
		log.Warn("failed to query device", "device", id, "error", err)
		return map[string]any{"online": false, "status": string(Error), "errorCode": errorCode(err)}
	}

	result = state.Flatten()
	result["online"] = true
	result["status"] = string(Success)
	return result
}

func uniqueIds(devices []DeviceRequest) []string {
	return lists.Unique(devices, func(d DeviceRequest) string { return d.ID })
}
