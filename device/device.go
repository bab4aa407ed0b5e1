package device

import (
	"fmt"
	"slices"
)

type Trait string

const (
	TraitOnOff      Trait = "action.devices.traits.OnOff"
	TraitStartStop  Trait = "action.devices.traits.StartStop"
	TraitRunCycle   Trait = "action.devices.traits.RunCycle"
	TraitBrightness Trait = "action.devices.traits.Brightness"
	TraitVolume     Trait = "action.devices.traits.Volume"
)

// traitDefaults holds the state every device starts with for each trait it declares.
var traitDefaults = map[Trait]TraitState{
	TraitOnOff: {
		"on": false,
	},
	TraitStartStop: {
		"isRunning": false,
		"isPaused":  false,
	},
	TraitRunCycle: {
		"currentRunCycle":           []any{},
		"currentTotalRemainingTime": 0,
		"currentCycleRemainingTime": 0,
	},
	TraitBrightness: {
		"brightness": 0,
	},
	TraitVolume: {
		"currentVolume": 0,
		"isMuted":       false,
	},
}

// Known reports whether the trait is supported by the bridge.
func (t Trait) Known() bool {
	_, ok := traitDefaults[t]
	return ok
}

type Device struct {
	ID              string
	Type            string
	Traits          []Trait
	Name            Name
	Info            Info
	RoomHint        string
	WillReportState bool
	Attributes      map[string]any
}

type Name struct {
	Name         string
	DefaultNames []string
	Nicknames    []string
}

type Info struct {
	Manufacturer string
	Model        string
	HwVersion    string
	SwVersion    string
}

func (d Device) Has(trait Trait) bool {
	return slices.Contains(d.Traits, trait)
}

func (d Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidDevice)
	}
	if d.Type == "" {
		return fmt.Errorf("%w: device %s has no type", ErrInvalidDevice, d.ID)
	}
	if len(d.Traits) == 0 {
		return fmt.Errorf("%w: device %s has no traits", ErrInvalidDevice, d.ID)
	}
	for _, trait := range d.Traits {
		if !trait.Known() {
			return fmt.Errorf("%w: device %s has unknown trait %s", ErrInvalidDevice, d.ID, trait)
		}
	}
	return nil
}
