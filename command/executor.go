package command

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mrlauy/ghome-bridge/device"
)

var (
	ErrUnknownCommand    = errors.New("unknown command")
	ErrInvalidParameters = errors.New("invalid parameters")
)

// Notifier is told about every device whose state changed.
type Notifier interface {
	Report(deviceID string)
}

type StateMerger interface {
	Merge(ctx context.Context, id string, partial device.State) (device.State, error)
}

type Executor struct {
	store    StateMerger
	notifier Notifier
	handlers map[Type]compiledHandler
}

type compiledHandler struct {
	handler
	schema *jsonschema.Schema
}

// NewExecutor builds the executor from the command table.
// It fails when a command in Types has no handler or a parameter schema does not compile.
func NewExecutor(store StateMerger, notifier Notifier) (*Executor, error) {
	return newExecutor(store, notifier, handlers)
}

func newExecutor(store StateMerger, notifier Notifier, table map[Type]handler) (*Executor, error) {
	compiled := make(map[Type]compiledHandler, len(table))
	for _, commandType := range Types() {
		h, ok := table[commandType]
		if !ok {
			return nil, fmt.Errorf("no handler for command %s", commandType)
		}
		if !h.trait.Known() {
			return nil, fmt.Errorf("command %s mutates unknown trait %s", commandType, h.trait)
		}
		schema, err := jsonschema.CompileString(string(commandType)+".json", h.schema)
		if err != nil {
			return nil, fmt.Errorf("failed to compile parameter schema of %s: %w", commandType, err)
		}
		compiled[commandType] = compiledHandler{handler: h, schema: schema}
	}

	return &Executor{
		store:    store,
		notifier: notifier,
		handlers: compiled,
	}, nil
}

// Execute validates the command, merges the resulting state into the store and
// returns the partial state that was applied.
func (e *Executor) Execute(ctx context.Context, cmd Command) (device.State, error) {
	h, ok := e.handlers[cmd.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Type)
	}

	params := cmd.Params
	if params == nil {
		params = map[string]any{}
	}
	if err := h.schema.Validate(params); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParameters, cmd.Type, err)
	}

	traitState, err := h.project(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParameters, cmd.Type, err)
	}
	partial := device.State{h.trait: traitState}
	if _, err := e.store.Merge(ctx, cmd.DeviceID, partial); err != nil {
		return nil, err
	}
	log.Info("executed command", "device", cmd.DeviceID, "command", cmd.Type, "state", partial)

	if e.notifier != nil {
		e.notifier.Report(cmd.DeviceID)
	}
	return partial, nil
}
