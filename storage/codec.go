package storage

import (
	"encoding/json"
	"fmt"

	"github.com/mrlauy/ghome-bridge/device"
)

func key(id string) string { return "device:state:" + id }

func encode(state device.State) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return data, nil
}

func decode(id string, data []byte) (device.State, error) {
	var state device.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode state of device %s: %w", id, err)
	}
	return state, nil
}
