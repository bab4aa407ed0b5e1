package report

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mrlauy/ghome-bridge/device"
	"github.com/mrlauy/ghome-bridge/metrics"
)

var ErrStopped = errors.New("reporter stopped")

type StateReader interface {
	Get(ctx context.Context, id string) (device.State, error)
	IDs() []string
}

// Users returns the agent users that should receive state reports.
type Users interface {
	Users() []string
}

type Options struct {
	Workers int
	Timeout time.Duration
	// Broadcast receives every report once, whether or not users are linked.
	Broadcast Sink
}

// Reporter pushes device state to a sink in the background.
//
// Reports for the same device coalesce while queued and the state is read when the
// report is sent, so a report can carry a newer state than the change that queued it.
// There is no ordering between devices.
type Reporter struct {
	store     StateReader
	users     Users
	sink      Sink
	broadcast Sink
	workers   int
	timeout   time.Duration

	known   map[string]bool
	queue   chan string
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	pending map[string]bool
	started bool
	stopped bool
}

// NewReporter creates a reporter. sink gets one notification per linked user and may be nil.
func NewReporter(store StateReader, users Users, sink Sink, options Options) *Reporter {
	if options.Workers <= 0 {
		options.Workers = 1
	}
	if options.Timeout <= 0 {
		options.Timeout = 10 * time.Second
	}

	ids := store.IDs()
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}

	return &Reporter{
		store:     store,
		users:     users,
		sink:      sink,
		broadcast: options.Broadcast,
		workers:   options.Workers,
		timeout:   options.Timeout,
		known:     known,
		queue:     make(chan string, len(ids)),
		done:      make(chan struct{}),
		pending:   map[string]bool{},
	}
}

func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
	log.Info("started state reporter", "workers", r.workers)
}

// Report queues a state report for the device and returns immediately.
func (r *Reporter) Report(deviceID string) {
	if !r.known[deviceID] {
		log.Warn("ignore report of unknown device", "device", deviceID)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		log.Debug("reporter stopped, drop report", "device", deviceID)
		return
	}
	if r.pending[deviceID] {
		return
	}

	select {
	case r.queue <- deviceID:
		r.pending[deviceID] = true
	default:
		// unreachable while every queued id is pending, the queue holds one slot per device
		log.Warn("report queue full, drop report", "device", deviceID)
	}
}

// ReportNow reads the current state of the device and pushes it to the sink for every linked user.
func (r *Reporter) ReportNow(ctx context.Context, deviceID string) error {
	state, err := r.store.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	return r.notify(ctx, map[string]map[string]any{deviceID: onlineState(state)})
}

// ReportAll pushes the state of every registered device in one notification per user.
func (r *Reporter) ReportAll(ctx context.Context) error {
	states := map[string]map[string]any{}
	for _, id := range r.store.IDs() {
		state, err := r.store.Get(ctx, id)
		if err != nil {
			return err
		}
		states[id] = onlineState(state)
	}
	if len(states) == 0 {
		return nil
	}
	return r.notify(ctx, states)
}

// Stop lets the workers finish the report they are sending. Reports still queued are abandoned.
func (r *Reporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.done)
	r.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		err = fmt.Errorf("%w: workers did not finish: %w", ErrStopped, ctx.Err())
	}

	if abandoned := len(r.queue); abandoned > 0 {
		log.Warn("abandoned queued state reports", "count", abandoned)
	}
	log.Info("stopped state reporter")
	return err
}

func (r *Reporter) work() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case deviceID := <-r.queue:
			select {
			case <-r.done:
				// put it back so Stop counts it as abandoned
				r.queue <- deviceID
				return
			default:
			}

			r.mu.Lock()
			delete(r.pending, deviceID)
			r.mu.Unlock()

			r.send(deviceID)
		}
	}
}

func (r *Reporter) send(deviceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.ReportNow(ctx, deviceID); err != nil {
		log.Error("failed to report state", "device", deviceID, "error", err)
	}
}

// notify sends the states once to the broadcast sink and once per linked user to the user sink.
func (r *Reporter) notify(ctx context.Context, states map[string]map[string]any) error {
	var errs []error
	if r.broadcast != nil {
		errs = append(errs, r.deliver(ctx, r.broadcast, Notification{
			RequestID: uuid.NewString(),
			States:    states,
		}))
	}

	if r.sink != nil {
		users := r.users.Users()
		if len(users) == 0 {
			log.Debug("no linked users, skip user state report", "devices", len(states))
		}
		for _, user := range users {
			errs = append(errs, r.deliver(ctx, r.sink, Notification{
				RequestID:   uuid.NewString(),
				AgentUserID: user,
				States:      states,
			}))
		}
	}
	return errors.Join(errs...)
}

func (r *Reporter) deliver(ctx context.Context, sink Sink, notification Notification) error {
	if err := sink.Notify(ctx, notification); err != nil {
		metrics.StateReports.WithLabelValues("failure").Inc()
		return fmt.Errorf("%w: request %s for user %q: %w", ErrNotification, notification.RequestID, notification.AgentUserID, err)
	}
	metrics.StateReports.WithLabelValues("success").Inc()
	log.Debug("reported state", "request", notification.RequestID, "user", notification.AgentUserID, "devices", len(notification.States))
	return nil
}

func onlineState(state device.State) map[string]any {
	flat := state.Flatten()
	flat["online"] = true
	return flat
}
