package operator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"

	"github.com/mrlauy/ghome-bridge/command"
	"github.com/mrlauy/ghome-bridge/device"
)

const (
	OnOffPath       = "/onoff"
	RequestSyncPath = "/requestsync"
)

type Executor interface {
	Execute(ctx context.Context, cmd command.Command) (device.State, error)
}

type Users interface {
	Users() []string
}

// Syncer asks Google to send a new SYNC intent for the user.
type Syncer interface {
	RequestSync(ctx context.Context, agentUserID string) error
}

type OnOffRequest struct {
	DeviceID string `json:"deviceId"`
	Action   string `json:"action"` // on or off
}

type OnOffResponse struct {
	DeviceID string `json:"deviceId"`
	On       bool   `json:"on"`
}

type RequestSyncResponse struct {
	Users []string `json:"users"`
}

// Operator serves the endpoints used by the owner of the devices, outside of the Google intents.
type Operator struct {
	executor Executor
	users    Users
	syncer   Syncer
}

// New creates the operator endpoints. syncer may be nil when HomeGraph is not configured.
func New(executor Executor, users Users, syncer Syncer) *Operator {
	return &Operator{
		executor: executor,
		users:    users,
		syncer:   syncer,
	}
}

func (o *Operator) Routes(router *mux.Router) {
	router.HandleFunc(OnOffPath, o.OnOff).Methods(http.MethodPost)

	allowAll := cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	})
	router.Handle(RequestSyncPath, allowAll(http.HandlerFunc(o.RequestSync))).
		Methods(http.MethodGet, http.MethodPost, http.MethodOptions)
}

// OnOff switches a device on or off. The executor reports the new state.
func (o *Operator) OnOff(w http.ResponseWriter, r *http.Request) {
	var request OnOffRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		log.Warn("bad onoff request", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var on bool
	switch request.Action {
	case "on":
		on = true
	case "off":
		on = false
	default:
		http.Error(w, fmt.Sprintf("unknown action %q", request.Action), http.StatusBadRequest)
		return
	}

	_, err := o.executor.Execute(r.Context(), command.Command{
		DeviceID: request.DeviceID,
		Type:     command.OnOff,
		Params:   map[string]any{"on": on},
	})
	switch {
	case errors.Is(err, device.ErrNotFound):
		http.Error(w, "unknown device "+request.DeviceID, http.StatusNotFound)
		return
	case errors.Is(err, device.ErrNotSupported):
		http.Error(w, "device "+request.DeviceID+" cannot be switched", http.StatusUnprocessableEntity)
		return
	case err != nil:
		log.Error("failed to switch device", "device", request.DeviceID, "error", err)
		http.Error(w, "failed to switch device", http.StatusInternalServerError)
		return
	}

	log.Info("switched device", "device", request.DeviceID, "on", on)
	writeJSON(w, OnOffResponse{DeviceID: request.DeviceID, On: on})
}

// RequestSync asks Google to resync the devices of every linked user.
func (o *Operator) RequestSync(w http.ResponseWriter, r *http.Request) {
	if o.syncer == nil {
		http.Error(w, "homegraph is not configured", http.StatusServiceUnavailable)
		return
	}

	users := o.users.Users()
	for _, user := range users {
		log.Info("request sync", "user", user)
		if err := o.syncer.RequestSync(r.Context(), user); err != nil {
			log.Error("failed to request sync", "user", user, "error", err)
			http.Error(w, fmt.Sprintf("error requesting sync: %v", err), http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, RequestSyncResponse{Users: users})
}

func writeJSON(w http.ResponseWriter, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error("failed to return response", "error", err)
	}
}
