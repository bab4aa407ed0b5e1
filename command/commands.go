package command

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mrlauy/ghome-bridge/device"
)

type Type string

const (
	OnOff              Type = "action.devices.commands.OnOff"
	StartStop          Type = "action.devices.commands.StartStop"
	PauseUnpause       Type = "action.devices.commands.PauseUnpause"
	BrightnessAbsolute Type = "action.devices.commands.BrightnessAbsolute"
	SetVolume          Type = "action.devices.commands.setVolume"
	Mute               Type = "action.devices.commands.mute"
)

// Types lists every command the bridge executes. Each needs an entry in the handler table.
func Types() []Type {
	return []Type{OnOff, StartStop, PauseUnpause, BrightnessAbsolute, SetVolume, Mute}
}

type Command struct {
	DeviceID string
	Type     Type
	Params   map[string]any
}

// handler describes how a command is validated and which state it produces.
// project is only called with params that passed schema.
type handler struct {
	trait   device.Trait
	schema  string
	project func(params map[string]any) (device.TraitState, error)
}

var handlers = map[Type]handler{
	OnOff: {
		trait:  device.TraitOnOff,
		schema: `{"type":"object","required":["on"],"properties":{"on":{"type":"boolean"}}}`,
		project: func(params map[string]any) (device.TraitState, error) {
			return device.TraitState{"on": params["on"]}, nil
		},
	},
	StartStop: {
		trait:  device.TraitStartStop,
		schema: `{"type":"object","required":["start"],"properties":{"start":{"type":"boolean"},"zone":{"type":"string"}}}`,
		project: func(params map[string]any) (device.TraitState, error) {
			return device.TraitState{"isRunning": params["start"]}, nil
		},
	},
	PauseUnpause: {
		trait:  device.TraitStartStop,
		schema: `{"type":"object","required":["pause"],"properties":{"pause":{"type":"boolean"}}}`,
		project: func(params map[string]any) (device.TraitState, error) {
			return device.TraitState{"isPaused": params["pause"]}, nil
		},
	},
	BrightnessAbsolute: {
		trait:  device.TraitBrightness,
		schema: `{"type":"object","required":["brightness"],"properties":{"brightness":{"type":"integer","minimum":0,"maximum":100}}}`,
		project: func(params map[string]any) (device.TraitState, error) {
			brightness, err := integer(params["brightness"])
			if err != nil {
				return nil, err
			}
			return device.TraitState{"brightness": brightness}, nil
		},
	},
	SetVolume: {
		trait:  device.TraitVolume,
		schema: `{"type":"object","required":["volumeLevel"],"properties":{"volumeLevel":{"type":"integer","minimum":0,"maximum":100}}}`,
		project: func(params map[string]any) (device.TraitState, error) {
			volume, err := integer(params["volumeLevel"])
			if err != nil {
				return nil, err
			}
			return device.TraitState{"currentVolume": volume}, nil
		},
	},
	Mute: {
		trait:  device.TraitVolume,
		schema: `{"type":"object","required":["mute"],"properties":{"mute":{"type":"boolean"}}}`,
		project: func(params map[string]any) (device.TraitState, error) {
			return device.TraitState{"isMuted": params["mute"]}, nil
		},
	},
}

// integer converts a schema checked number of any numeric kind.
func integer(value any) (int, error) {
	if n, ok := value.(json.Number); ok {
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", n, err)
		}
		return int(f), nil
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return int(v.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return int(v.Float()), nil
	default:
		return 0, fmt.Errorf("unexpected number type %T", value)
	}
}
