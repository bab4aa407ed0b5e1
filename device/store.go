package device

import (
	"context"
	"fmt"
	log "log/slog"
	"sort"
	"sync"
)

// Persister keeps device state across restarts.
// Implementations must not retain the state passed to Save.
type Persister interface {
	Load(ctx context.Context, id string) (State, bool, error)
	Save(ctx context.Context, id string, state State) error
	Close() error
}

// Store holds the current state of every registered device.
//
// The set of devices is fixed at construction. Each device has its own lock:
// merges on one device are serialized, readers never observe a half applied
// merge, and devices never block each other.
type Store struct {
	entries   map[string]*entry
	ids       []string
	persister Persister
	initial   map[string]State
}

type entry struct {
	mu     sync.RWMutex
	device Device
	state  State
}

type Option func(*Store)

// WithPersister writes every merged state through p and loads previously saved state on start-up.
func WithPersister(p Persister) Option {
	return func(s *Store) {
		s.persister = p
	}
}

// WithInitialState overrides the trait defaults of the given devices.
func WithInitialState(initial map[string]State) Option {
	return func(s *Store) {
		s.initial = initial
	}
}

func NewStore(ctx context.Context, devices []Device, opts ...Option) (*Store, error) {
	s := &Store{
		entries: make(map[string]*entry, len(devices)),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, device := range devices {
		if err := device.Validate(); err != nil {
			return nil, err
		}
		if _, ok := s.entries[device.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDevice, device.ID)
		}

		state, err := s.loadState(ctx, device)
		if err != nil {
			return nil, err
		}

		s.entries[device.ID] = &entry{device: device, state: state}
		s.ids = append(s.ids, device.ID)
	}
	sort.Strings(s.ids)

	log.Info("device store ready", "devices", len(s.ids), "persistent", s.persister != nil)
	return s, nil
}

func (s *Store) loadState(ctx context.Context, device Device) (State, error) {
	declared := func(trait Trait) bool {
		if device.Has(trait) {
			return true
		}
		log.Warn("ignore state of undeclared trait", "device", device.ID, "trait", trait)
		return false
	}

	state := DefaultState(device.Traits)
	if initial, ok := s.initial[device.ID]; ok {
		state = state.Merge(initial.Only(declared))
	}

	if s.persister == nil {
		return state, nil
	}
	saved, found, err := s.persister.Load(ctx, device.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load state of device %s: %w", device.ID, err)
	}
	if found {
		state = state.Merge(saved.Only(declared))
		log.Debug("restored device state", "device", device.ID, "state", state)
	}
	return state, nil
}

// Get returns a copy of the current state of the device.
func (s *Store) Get(_ context.Context, id string) (State, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Clone(), nil
}

// Merge applies partial to the state of the device and returns the resulting full state.
// Every trait in partial must be declared by the device.
func (s *Store) Merge(ctx context.Context, id string, partial State) (State, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for trait := range partial {
		if !e.device.Has(trait) {
			return nil, fmt.Errorf("%w: %s does not declare %s", ErrNotSupported, id, trait)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	merged := e.state.Merge(partial)
	if s.persister != nil {
		if err := s.persister.Save(ctx, id, merged); err != nil {
			return nil, fmt.Errorf("failed to save state of device %s: %w", id, err)
		}
	}
	e.state = merged

	log.Debug("merged device state", "device", id, "partial", partial)
	return merged.Clone(), nil
}

// Device returns the registered device with the given id.
func (s *Store) Device(id string) (Device, error) {
	e, ok := s.entries[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.device, nil
}

// Devices returns all registered devices ordered by id.
func (s *Store) Devices() []Device {
	devices := make([]Device, 0, len(s.ids))
	for _, id := range s.ids {
		devices = append(devices, s.entries[id].device)
	}
	return devices
}

// IDs returns the ids of all registered devices in order.
func (s *Store) IDs() []string {
	return append([]string(nil), s.ids...)
}
