package fullfillment

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mrlauy/ghome-bridge/command"
	"github.com/mrlauy/ghome-bridge/device"
	"github.com/mrlauy/ghome-bridge/lists"
	"github.com/mrlauy/ghome-bridge/metrics"
)

type ExecuteResponse struct {
	RequestID string         `json:"requestId"` // Required. ID of the corresponding request.
	Payload   ExecutePayload `json:"payload"`   // Required. Intent response payload.
}

type ExecutePayload struct {
	Commands    []ExecuteCommands `json:"commands"`              // Each object contains one or more devices with response details. These may not be grouped the same way as in the request.
	ErrorCode   string            `json:"errorCode,omitempty"`   // An error code for the entire transaction for auth failures and developer system unavailability.
	DebugString string            `json:"debugString,omitempty"` // Detailed error which will never be presented to users but may be logged or used during development.
}

type ExecuteCommands struct {
	Ids    []string      `json:"ids"`    // Required. List of device IDs corresponding to this status.
	Status ExecuteStatus `json:"status"` // Required. Result of the execute operation.

	States    map[string]any `json:"states,omitempty"`    // States after execution, aligned with the per-trait states.
	ErrorCode string         `json:"errorCode,omitempty"` // Expanding ERROR state from the preset error codes.
}

type ExecuteStatus string

const (
	Success    ExecuteStatus = "SUCCESS"    // Confirm that the command succeeded.
	Pending    ExecuteStatus = "PENDING"    // Command is enqueued but expected to succeed.
	Offline    ExecuteStatus = "OFFLINE"    // Target device is in offline state or unreachable.
	Exceptions ExecuteStatus = "EXCEPTIONS" // There is an issue or alert associated with a command.
	Error      ExecuteStatus = "ERROR"      // Target device is unable to perform the command.
)

var (
	errPanic        = errors.New("device command panicked")
	errNoExecutions = fmt.Errorf("%w: command has no executions", command.ErrInvalidParameters)
)

// target is one device of a request command group with the executions to apply to it.
type target struct {
	group      int
	deviceID   string
	executions []ExecutionRequest
}

// result is the outcome of one execution on one device.
type result struct {
	state device.State
	err   error
}

type outcome struct {
	states []device.State
	errs   []error
}

func (o outcome) failed() bool {
	return len(o.errs) > 0
}

// execute applies every execution to every device of every command group. All pairs run concurrently
// and all of them run, also when some fail. Results are folded per device in request order.
func (f *Fullfillment) execute(ctx context.Context, requestId string, payload PayloadRequest) ExecuteResponse {
	log.Info("handle execute request", "request", requestId, "commands", len(payload.Commands))

	var targets []target
	for group, commandRequest := range payload.Commands {
		for _, id := range uniqueIds(commandRequest.Devices) {
			targets = append(targets, target{group: group, deviceID: id, executions: commandRequest.Execution})
		}
	}

	results := make([][]result, len(targets))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, t := range targets {
		if len(t.executions) == 0 {
			results[i] = []result{f.withoutExecutions(ctx, t.deviceID)}
			continue
		}
		results[i] = make([]result, len(t.executions))
		for j, execution := range t.executions {
			i, t, j, execution := i, t, j, execution
			g.Go(func() error {
				results[i][j] = f.executePair(ctx, t.deviceID, execution)
				return nil
			})
		}
	}
	_ = g.Wait()

	outcomes := lists.Map(results, func(rs []result) outcome {
		return lists.Fold(rs, outcome{}, func(o outcome, r result) outcome {
			if r.err != nil {
				o.errs = append(o.errs, r.err)
			} else {
				o.states = append(o.states, r.state)
			}
			return o
		})
	})

	executeCommands := []ExecuteCommands{}
	total, failed := 0, 0
	for group := range payload.Commands {
		var groupTargets []target
		var groupOutcomes []outcome
		for i, t := range targets {
			if t.group == group {
				groupTargets = append(groupTargets, t)
				groupOutcomes = append(groupOutcomes, outcomes[i])
			}
		}
		executeCommands = append(executeCommands, aggregate(groupTargets, groupOutcomes)...)

		total += lists.Fold(groupTargets, 0, func(n int, t target) int { return n + max(len(t.executions), 1) })
		failed += lists.Fold(groupOutcomes, 0, func(n int, o outcome) int { return n + len(o.errs) })
	}

	response := ExecuteResponse{
		RequestID: requestId,
		Payload: ExecutePayload{
			Commands: executeCommands,
		},
	}
	if failed > 0 {
		summary := "PARTIAL"
		if failed == total {
			summary = "ERROR"
		}
		response.Payload.DebugString = fmt.Sprintf("%s: %d of %d device commands failed", summary, failed, total)
		log.Warn("execute request failed", "request", requestId, "result", summary, "failed", failed, "total", total)
	}
	return response
}

// withoutExecutions fails a device of a command group that carries nothing to execute.
func (f *Fullfillment) withoutExecutions(ctx context.Context, deviceID string) result {
	if _, err := f.store.Get(ctx, deviceID); err != nil {
		return result{err: err}
	}
	return result{err: errNoExecutions}
}

func (f *Fullfillment) executePair(ctx context.Context, deviceID string, execution ExecutionRequest) result {
	cmd := command.Command{
		DeviceID: deviceID,
		Type:     command.Type(execution.Command),
		Params:   execution.Params,
	}

	state, err := f.executeCommand(ctx, cmd)
	if err != nil {
		log.Warn("failed to execute command", "device", deviceID, "command", execution.Command, "error", err)
		metrics.Executions.WithLabelValues(execution.Command, errorCode(err)).Inc()
		return result{err: err}
	}
	metrics.Executions.WithLabelValues(execution.Command, "success").Inc()
	return result{state: state}
}

func (f *Fullfillment) executeCommand(ctx context.Context, cmd command.Command) (state device.State, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("command panicked", "device", cmd.DeviceID, "command", cmd.Type, "panic", r)
			state, err = nil, fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return f.executor.Execute(ctx, cmd)
}

// aggregate folds the outcomes of one command group into one SUCCESS entry with the union of the
// applied states and one ERROR entry per error code.
func aggregate(targets []target, outcomes []outcome) []ExecuteCommands {
	var succeeded []string
	states := map[string]any{}
	var codes []string
	failedIds := map[string][]string{}

	for i, o := range outcomes {
		id := targets[i].deviceID
		if o.failed() {
			code := errorCode(o.errs[0])
			if _, ok := failedIds[code]; !ok {
				codes = append(codes, code)
			}
			failedIds[code] = append(failedIds[code], id)
			continue
		}

		succeeded = append(succeeded, id)
		for _, state := range o.states {
			for key, value := range state.Flatten() {
				states[key] = value
			}
		}
	}

	var commands []ExecuteCommands
	if len(succeeded) > 0 {
		states["online"] = true
		commands = append(commands, ExecuteCommands{
			Ids:    succeeded,
			Status: Success,
			States: states,
		})
	}
	for _, code := range codes {
		commands = append(commands, ExecuteCommands{
			Ids:       failedIds[code],
			Status:    Error,
			ErrorCode: code,
		})
	}
	return commands
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, device.ErrNotFound):
		return "deviceNotFound"
	case errors.Is(err, command.ErrInvalidParameters):
		return "protocolError"
	case errors.Is(err, command.ErrUnknownCommand):
		return "functionNotSupported"
	case errors.Is(err, device.ErrNotSupported):
		return "notSupported"
	case errors.Is(err, device.ErrMergeConflict):
		return "transientError"
	default:
		return "hardError"
	}
}
