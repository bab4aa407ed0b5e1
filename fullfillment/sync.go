package fullfillment

import (
	log "log/slog"

	"github.com/mrlauy/ghome-bridge/device"
	"github.com/mrlauy/ghome-bridge/lists"
)

type SyncResponse struct {
	RequestID string      `json:"requestId"` // Required. ID of the corresponding request.
	Payload   SyncPayload `json:"payload"`   // Required. Intent response payload.
}

type SyncPayload struct {
	AgentUserID string        `json:"agentUserId"`           // Required. Reflects the unique (and immutable) user ID on the agent's platform.
	Devices     []SyncDevices `json:"devices"`               // Required. Zero devices means the user has no devices, or has disconnected them all.
	ErrorCode   string        `json:"errorCode,omitempty"`   // For systematic errors on SYNC
	DebugString string        `json:"debugString,omitempty"` // Detailed error which will never be presented to users but may be logged or used during development.
}

type SyncDevices struct {
	ID              string          `json:"id"`                   // Required. The ID of the device in the developer's cloud.
	Type            string          `json:"type"`                 // Required. The hardware type of device.
	Traits          []string        `json:"traits"`               // Required. List of traits this device has.
	Name            SyncName        `json:"name"`                 // Required. Names of this device.
	WillReportState bool            `json:"willReportState"`      // Required. Indicates whether this device will have its states updated by the Real Time Feed.
	RoomHint        string          `json:"roomHint,omitempty"`   // Provides the current room of the device in the user's home to simplify setup.
	DeviceInfo      *SyncDeviceInfo `json:"deviceInfo,omitempty"` // Contains fields describing the device for use in one-off logic if needed.
	Attributes      map[string]any  `json:"attributes,omitempty"` // Aligned with per-trait attributes described in each trait schema reference.
}

type SyncName struct {
	DefaultNames []string `json:"defaultNames,omitempty"` // List of names provided by the developer rather than the user, often manufacturer names, SKUs, etc.
	Name         string   `json:"name"`                   // Required. Primary name of the device, generally provided by the user.
	Nicknames    []string `json:"nicknames,omitempty"`    // Additional names provided by the user for the device.
}

type SyncDeviceInfo struct {
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	HwVersion    string `json:"hwVersion,omitempty"`
	SwVersion    string `json:"swVersion,omitempty"`
}

func (f *Fullfillment) sync(requestId string, userId string) SyncResponse {
	devices := []SyncDevices{}
	if f.links.Linked(userId) {
		devices = lists.Map(f.store.Devices(), toSyncDevice)
	} else {
		log.Warn("sync for unlinked user", "request", requestId, "user", userId)
	}

	log.Info("handle sync", "request", requestId, "user", userId, "devices", len(devices))
	return SyncResponse{
		RequestID: requestId,
		Payload: SyncPayload{
			AgentUserID: userId,
			Devices:     devices,
		},
	}
}

func toSyncDevice(d device.Device) SyncDevices {
	syncDevice := SyncDevices{
		ID:     d.ID,
		Type:   d.Type,
		Traits: lists.Map(d.Traits, func(t device.Trait) string { return string(t) }),
		Name: SyncName{
			DefaultNames: d.Name.DefaultNames,
			Name:         d.Name.Name,
			Nicknames:    d.Name.Nicknames,
		},
		WillReportState: d.WillReportState,
		RoomHint:        d.RoomHint,
		Attributes:      d.Attributes,
	}
	if d.Info != (device.Info{}) {
		syncDevice.DeviceInfo = &SyncDeviceInfo{
			Manufacturer: d.Info.Manufacturer,
			Model:        d.Info.Model,
			HwVersion:    d.Info.HwVersion,
			SwVersion:    d.Info.SwVersion,
		}
	}
	return syncDevice
}
