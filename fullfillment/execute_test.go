package fullfillment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mrlauy/ghome-bridge/command"
	"github.com/mrlauy/ghome-bridge/device"
)

func executeRequest(commands ...CommandRequest) FullfillementRequest {
	return FullfillementRequest{
		RequestID: "ff36a3cc-ec34-11e6-b1a0-64510650abcf",
		Inputs: []InputRequest{{
			Intent:  IntentExecute,
			Payload: PayloadRequest{Commands: commands},
		}},
	}
}

func devices(ids ...string) []DeviceRequest {
	requests := make([]DeviceRequest, 0, len(ids))
	for _, id := range ids {
		requests = append(requests, DeviceRequest{ID: id})
	}
	return requests
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name     string
		commands []CommandRequest
		expected ExecutePayload
	}{
		{
			name: "start washer",
			commands: []CommandRequest{{
				Devices:   devices("washer1"),
				Execution: []ExecutionRequest{{Command: "action.devices.commands.StartStop", Params: map[string]any{"start": true}}},
			}},
			expected: ExecutePayload{Commands: []ExecuteCommands{
				{Ids: []string{"washer1"}, Status: Success, States: map[string]any{"isRunning": true, "online": true}},
			}},
		},
		{
			name: "unsupported command",
			commands: []CommandRequest{{
				Devices:   devices("washer1"),
				Execution: []ExecutionRequest{{Command: "action.devices.commands.Unsupported", Params: map[string]any{}}},
			}},
			expected: ExecutePayload{
				Commands:    []ExecuteCommands{{Ids: []string{"washer1"}, Status: Error, ErrorCode: "functionNotSupported"}},
				DebugString: "ERROR: 1 of 1 device commands failed",
			},
		},
		{
			name: "unknown device next to known device",
			commands: []CommandRequest{{
				Devices:   devices("washer1", "dryer"),
				Execution: []ExecutionRequest{{Command: "action.devices.commands.OnOff", Params: map[string]any{"on": true}}},
			}},
			expected: ExecutePayload{
				Commands: []ExecuteCommands{
					{Ids: []string{"washer1"}, Status: Success, States: map[string]any{"on": true, "online": true}},
					{Ids: []string{"dryer"}, Status: Error, ErrorCode: "deviceNotFound"},
				},
				DebugString: "PARTIAL: 1 of 2 device commands failed",
			},
		},
		{
			name: "several executions on one device",
			commands: []CommandRequest{{
				Devices: devices("washer1"),
				Execution: []ExecutionRequest{
					{Command: "action.devices.commands.StartStop", Params: map[string]any{"start": true}},
					{Command: "action.devices.commands.PauseUnpause", Params: map[string]any{"pause": true}},
				},
			}},
			expected: ExecutePayload{Commands: []ExecuteCommands{
				{Ids: []string{"washer1"}, Status: Success, States: map[string]any{"isRunning": true, "isPaused": true, "online": true}},
			}},
		},
		{
			name: "failed execution fails the device",
			commands: []CommandRequest{{
				Devices: devices("lamp"),
				Execution: []ExecutionRequest{
					{Command: "action.devices.commands.OnOff", Params: map[string]any{"on": true}},
					{Command: "action.devices.commands.StartStop", Params: map[string]any{"start": true}},
				},
			}},
			expected: ExecutePayload{
				Commands:    []ExecuteCommands{{Ids: []string{"lamp"}, Status: Error, ErrorCode: "notSupported"}},
				DebugString: "PARTIAL: 1 of 2 device commands failed",
			},
		},
		{
			name: "errors grouped by code",
			commands: []CommandRequest{{
				Devices:   devices("washer1", "lamp", "dryer", "heater"),
				Execution: []ExecutionRequest{{Command: "action.devices.commands.BrightnessAbsolute", Params: map[string]any{"brightness": 40.0}}},
			}},
			expected: ExecutePayload{
				Commands: []ExecuteCommands{
					{Ids: []string{"lamp"}, Status: Success, States: map[string]any{"brightness": 40, "online": true}},
					{Ids: []string{"washer1"}, Status: Error, ErrorCode: "notSupported"},
					{Ids: []string{"dryer", "heater"}, Status: Error, ErrorCode: "deviceNotFound"},
				},
				DebugString: "PARTIAL: 3 of 4 device commands failed",
			},
		},
		{
			name: "invalid parameters",
			commands: []CommandRequest{{
				Devices:   devices("lamp"),
				Execution: []ExecutionRequest{{Command: "action.devices.commands.OnOff", Params: map[string]any{"on": "please"}}},
			}},
			expected: ExecutePayload{
				Commands:    []ExecuteCommands{{Ids: []string{"lamp"}, Status: Error, ErrorCode: "protocolError"}},
				DebugString: "ERROR: 1 of 1 device commands failed",
			},
		},
		{
			name: "one entry per command group",
			commands: []CommandRequest{
				{
					Devices:   devices("washer1"),
					Execution: []ExecutionRequest{{Command: "action.devices.commands.OnOff", Params: map[string]any{"on": true}}},
				},
				{
					Devices:   devices("lamp"),
					Execution: []ExecutionRequest{{Command: "action.devices.commands.BrightnessAbsolute", Params: map[string]any{"brightness": 10.0}}},
				},
			},
			expected: ExecutePayload{Commands: []ExecuteCommands{
				{Ids: []string{"washer1"}, Status: Success, States: map[string]any{"on": true, "online": true}},
				{Ids: []string{"lamp"}, Status: Success, States: map[string]any{"brightness": 10, "online": true}},
			}},
		},
		{
			name: "duplicate device ids",
			commands: []CommandRequest{{
				Devices:   devices("lamp", "lamp"),
				Execution: []ExecutionRequest{{Command: "action.devices.commands.OnOff", Params: map[string]any{"on": false}}},
			}},
			expected: ExecutePayload{Commands: []ExecuteCommands{
				{Ids: []string{"lamp"}, Status: Success, States: map[string]any{"on": false, "online": true}},
			}},
		},
		{
			name: "command group without executions",
			commands: []CommandRequest{{
				Devices:   devices("washer1", "ghost"),
				Execution: []ExecutionRequest{},
			}},
			expected: ExecutePayload{
				Commands: []ExecuteCommands{
					{Ids: []string{"washer1"}, Status: Error, ErrorCode: "protocolError"},
					{Ids: []string{"ghost"}, Status: Error, ErrorCode: "deviceNotFound"},
				},
				DebugString: "ERROR: 2 of 2 device commands failed",
			},
		},
		{
			name:     "no commands",
			commands: nil,
			expected: ExecutePayload{Commands: []ExecuteCommands{}},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f, _, _ := newTestFullfillment(t)

			response := f.handle(context.Background(), "123", executeRequest(test.commands...))

			assert.Equal(t, ExecuteResponse{
				RequestID: "ff36a3cc-ec34-11e6-b1a0-64510650abcf",
				Payload:   test.expected,
			}, response)
		})
	}
}

func TestExecuteReportsChangedDevices(t *testing.T) {
	f, _, notifier := newTestFullfillment(t)

	f.handle(context.Background(), "123", executeRequest(CommandRequest{
		Devices:   devices("washer1", "lamp", "dryer"),
		Execution: []ExecutionRequest{{Command: "action.devices.commands.OnOff", Params: map[string]any{"on": true}}},
	}))

	assert.ElementsMatch(t, []string{"washer1", "lamp"}, notifier.reported())
}

func TestExecuteRecoversPanic(t *testing.T) {
	store, links := newTestStore(t)
	f := NewFullfillment(store, &executorMock{panicOn: "lamp"}, links, Options{DefaultUser: "123"})

	response := f.handle(context.Background(), "123", executeRequest(CommandRequest{
		Devices:   devices("washer1", "lamp"),
		Execution: []ExecutionRequest{{Command: "action.devices.commands.OnOff", Params: map[string]any{"on": true}}},
	}))

	assert.Equal(t, ExecutePayload{
		Commands: []ExecuteCommands{
			{Ids: []string{"washer1"}, Status: Success, States: map[string]any{"on": true, "online": true}},
			{Ids: []string{"lamp"}, Status: Error, ErrorCode: "hardError"},
		},
		DebugString: "PARTIAL: 1 of 2 device commands failed",
	}, response.(ExecuteResponse).Payload)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{err: fmt.Errorf("%w: dryer", device.ErrNotFound), expected: "deviceNotFound"},
		{err: fmt.Errorf("%w: on", command.ErrInvalidParameters), expected: "protocolError"},
		{err: fmt.Errorf("%w: Dance", command.ErrUnknownCommand), expected: "functionNotSupported"},
		{err: fmt.Errorf("%w: lamp", device.ErrNotSupported), expected: "notSupported"},
		{err: device.ErrMergeConflict, expected: "transientError"},
		{err: fmt.Errorf("failed to save state of device lamp: %w", errors.New("disk full")), expected: "hardError"},
		{err: errPanic, expected: "hardError"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, errorCode(test.err))
		})
	}
}

type executorMock struct {
	panicOn string
}

func (e *executorMock) Execute(ctx context.Context, cmd command.Command) (device.State, error) {
	if cmd.DeviceID == e.panicOn {
		panic("device driver exploded")
	}
	return device.State{device.TraitOnOff: {"on": cmd.Params["on"]}}, nil
}
