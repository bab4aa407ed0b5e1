package fullfillment

import (
	"context"
	"encoding/json"
	log "log/slog"
	"net/http"

	"github.com/mrlauy/ghome-bridge/auth"
	"github.com/mrlauy/ghome-bridge/command"
	"github.com/mrlauy/ghome-bridge/device"
	"github.com/mrlauy/ghome-bridge/metrics"
)

const (
	IntentSync       = "action.devices.SYNC"
	IntentQuery      = "action.devices.QUERY"
	IntentExecute    = "action.devices.EXECUTE"
	IntentDisconnect = "action.devices.DISCONNECT"
)

type FullfillementRequest struct {
	RequestID string         `json:"requestId,omitempty"`
	Inputs    []InputRequest `json:"inputs,omitempty"`
}

type InputRequest struct {
	Intent  string         `json:"intent,omitempty"`
	Payload PayloadRequest `json:"payload,omitempty"`
}

type PayloadRequest struct {
	AgentUserID string           `json:"agentUserId,omitempty"`
	Devices     []DeviceRequest  `json:"devices,omitempty"`
	Commands    []CommandRequest `json:"commands,omitempty"`
}

type DeviceRequest struct {
	ID         string         `json:"id,omitempty"`
	CustomData map[string]any `json:"customData,omitempty"`
}

type CommandRequest struct {
	Devices   []DeviceRequest    `json:"devices,omitempty"`
	Execution []ExecutionRequest `json:"execution,omitempty"`
}

type ExecutionRequest struct {
	Command string         `json:"command,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
}

// ErrorResponse answers requests that carry no intent the bridge can handle.
type ErrorResponse struct {
	RequestID string       `json:"requestId"`
	Payload   ErrorPayload `json:"payload"`
}

type ErrorPayload struct {
	ErrorCode   string `json:"errorCode"`
	DebugString string `json:"debugString,omitempty"`
}

type DeviceStore interface {
	Devices() []device.Device
	Get(ctx context.Context, id string) (device.State, error)
}

type Executor interface {
	Execute(ctx context.Context, cmd command.Command) (device.State, error)
}

type Links interface {
	Linked(user string) bool
	Unlink(user string) bool
}

type Options struct {
	// DefaultUser is the agent user of requests without an authenticated user.
	DefaultUser string
	// Concurrency bounds the device commands of one EXECUTE that run at the same time.
	Concurrency int
}

// Fullfillment answers the smart home intents. It keeps no state between requests.
type Fullfillment struct {
	store       DeviceStore
	executor    Executor
	links       Links
	defaultUser string
	concurrency int
}

func NewFullfillment(store DeviceStore, executor Executor, links Links, options Options) *Fullfillment {
	if options.Concurrency <= 0 {
		options.Concurrency = 8
	}
	return &Fullfillment{
		store:       store,
		executor:    executor,
		links:       links,
		defaultUser: options.DefaultUser,
		concurrency: options.Concurrency,
	}
}

func (f *Fullfillment) Handler(w http.ResponseWriter, r *http.Request) {
	var request FullfillementRequest
	err := json.NewDecoder(r.Body).Decode(&request)
	if err != nil {
		log.Error("fullfillment bad request", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		user = f.defaultUser
	}

	response := f.handle(r.Context(), user, request)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	logResponse(request.RequestID, response)

	err = json.NewEncoder(w).Encode(response)
	if err != nil {
		log.Error("failed to return response", "error", err)
	}
}

func (f *Fullfillment) handle(ctx context.Context, user string, request FullfillementRequest) interface{} {
	if len(request.Inputs) == 0 {
		log.Error("request without inputs", "request", request.RequestID)
		return errorResponse(request.RequestID, "protocolError", "request has no inputs")
	}

	input := request.Inputs[0]
	metrics.Intents.WithLabelValues(input.Intent).Inc()

	switch input.Intent {
	case IntentSync:
		return f.sync(request.RequestID, user)
	case IntentQuery:
		return f.query(ctx, request.RequestID, input.Payload)
	case IntentExecute:
		return f.execute(ctx, request.RequestID, input.Payload)
	case IntentDisconnect:
		return f.disconnect(request.RequestID, user)
	default:
		log.Error("failed to handle unknown intent", "request", request.RequestID, "intent", input.Intent)
		return errorResponse(request.RequestID, "notSupported", "unknown intent "+input.Intent)
	}
}

func errorResponse(requestId, errorCode, debug string) ErrorResponse {
	return ErrorResponse{
		RequestID: requestId,
		Payload: ErrorPayload{
			ErrorCode:   errorCode,
			DebugString: debug,
		},
	}
}

func logResponse(requestId string, response interface{}) {
	if !log.Default().Enabled(context.Background(), log.LevelDebug) {
		return
	}
	str, err := json.Marshal(response)
	if err != nil {
		log.Error("failed to log response", "error", err)
		return
	}
	log.Debug("response", "request", requestId, "body", string(str))
}
