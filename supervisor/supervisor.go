package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smnsjas/go-ipacore/instproxy"
)

// ErrDeviceDisconnected is returned when the target device disappears
// while a command is being supervised.
var ErrDeviceDisconnected = errors.New("supervisor: device disconnected")

// PollInterval is the fixed interval of the cooperative wait loop.
const PollInterval = 50 * time.Millisecond

// State represents the supervision state of a command.
type State int

const (
	// StateIdle is the initial state before Wait is entered.
	StateIdle State = iota
	// StateWaiting indicates the command is being supervised.
	StateWaiting
	// StateCompleted indicates the command reported terminal success.
	StateCompleted
	// StateFailed indicates a status event carried an error record.
	StateFailed
	// StateCancelled indicates the wait ended early: the device
	// disappeared or the caller's context was cancelled.
	StateCancelled
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateWaiting:
		return "Waiting"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	case StateCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Logger is an optional interface for debug logging.
// If not set, no logging is performed.
type Logger interface {
	// Printf formats and logs a debug message.
	Printf(format string, v ...interface{})
}

// Command supervises one remote operation. Create a fresh Command per
// operation; a Command cannot be reused once Wait has returned.
type Command struct {
	mu sync.Mutex

	id       uuid.UUID
	name     string
	deviceID string

	state     State
	status    string
	percent   int
	completed bool
	notified  bool
	opErr     *instproxy.OperationError
	present   bool
	ignoring  bool

	logger Logger
	report instproxy.StatusFunc
	browse func(*instproxy.StatusEvent)
}

// New returns a Command supervising the named operation against the
// device identified by deviceID.
func New(name, deviceID string) *Command {
	return &Command{
		id:       uuid.New(),
		name:     name,
		deviceID: deviceID,
		state:    StateIdle,
		percent:  -1,
	}
}

// ID returns the command's correlation identifier.
func (c *Command) ID() uuid.UUID {
	return c.id
}

// Name returns the operation name given to New.
func (c *Command) Name() string {
	return c.name
}

// State returns the current supervision state.
func (c *Command) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the most recent status name and progress percentage
// (-1 when no progress has been reported).
func (c *Command) Status() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.percent
}

// SetLogger sets the logger for debug logging. Optional.
func (c *Command) SetLogger(logger Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

// EnableDebugLogging enables debug logging to stderr using the standard
// log package.
func (c *Command) EnableDebugLogging() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = log.New(os.Stderr, "[ipa] ", log.LstdFlags)
}

// OnStatus registers fn to observe every status event the command
// receives, after the command's own bookkeeping.
func (c *Command) OnStatus(fn instproxy.StatusFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report = fn
}

// OnBrowse registers fn to receive listing result pages. Browse pages
// carry records rather than a status name and never affect completion.
func (c *Command) OnBrowse(fn func(*instproxy.StatusEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.browse = fn
}

// HandleStatus records a status event. Safe to call from the
// transport's I/O goroutine.
func (c *Command) HandleStatus(ev *instproxy.StatusEvent) {
	if ev == nil {
		return
	}
	c.mu.Lock()
	if ev.Err != nil {
		c.opErr = ev.Err
	}
	isBrowsePage := ev.Err == nil && ev.Command == instproxy.CommandBrowse && ev.BrowseList != nil
	if !isBrowsePage && ev.Status != "" {
		c.status = ev.Status
		c.percent = ev.PercentComplete
		if ev.Status == instproxy.StatusComplete {
			c.completed = true
		}
	}
	report, browse := c.report, c.browse
	c.mu.Unlock()

	// Callbacks run outside the lock; they are free to query the
	// command.
	if isBrowsePage && browse != nil {
		browse(ev)
	}
	if report != nil {
		report(ev)
	}
}

// HandleNotification records the side-channel notification for the
// operation. The notification name is not inspected; observers decide
// which names to subscribe to.
func (c *Command) HandleNotification(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logf("notification received: %s", name)
	c.notified = true
}

// HandlePresence records a device-presence event. A removal event for
// the command's device makes the presence flag false for the remainder
// of this command's lifetime; nothing sets it true again.
func (c *Command) HandlePresence(ev PresenceEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ignoring {
		return
	}
	if ev.Kind == DeviceRemoved && ev.DeviceID == c.deviceID {
		c.logf("device %s removed", ev.DeviceID)
		c.present = false
	}
}

// Wait blocks until the command reaches a terminal state. It marks the
// device present, subscribes to monitor (when non-nil) for presence
// events, and polls on a fixed interval. When expectNotification is
// set, terminal success additionally waits for the side-channel
// notification. Presence delivery is disabled again before Wait
// returns, so late events cannot mutate the command.
//
// The returned error is the recorded *instproxy.OperationError for
// StateFailed, ErrDeviceDisconnected for presence loss, the context's
// error for caller cancellation, and nil for StateCompleted.
func (c *Command) Wait(ctx context.Context, monitor PresenceMonitor, expectNotification bool) (State, error) {
	c.mu.Lock()
	c.present = true
	c.ignoring = false
	c.state = StateWaiting
	c.mu.Unlock()

	if monitor != nil {
		if err := monitor.Subscribe(c.HandlePresence); err != nil {
			return c.finish(StateFailed), fmt.Errorf("supervisor: subscribing to presence events: %w", err)
		}
	}
	defer func() {
		c.mu.Lock()
		c.ignoring = true
		c.mu.Unlock()
		if monitor != nil {
			monitor.Unsubscribe()
		}
	}()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	// Primary wait: until completion, an error, or presence loss. The
	// condition is evaluated before the first tick so a device that is
	// already gone cancels immediately.
	for {
		opErr, present, completed, _ := c.snapshot()
		if opErr != nil {
			return c.finish(StateFailed), opErr
		}
		if !present {
			return c.finish(StateCancelled), ErrDeviceDisconnected
		}
		if completed {
			break
		}
		select {
		case <-ctx.Done():
			return c.finish(StateCancelled), ctx.Err()
		case <-ticker.C:
		}
	}

	// Secondary wait for the side-channel notification, under the same
	// cancellation rules.
	if expectNotification {
		c.logf("%s complete, waiting for notification", c.name)
		for {
			opErr, present, _, notified := c.snapshot()
			if opErr != nil {
				return c.finish(StateFailed), opErr
			}
			if !present {
				return c.finish(StateCancelled), ErrDeviceDisconnected
			}
			if notified {
				break
			}
			select {
			case <-ctx.Done():
				return c.finish(StateCancelled), ctx.Err()
			case <-ticker.C:
			}
		}
	}

	return c.finish(StateCompleted), nil
}

func (c *Command) snapshot() (opErr *instproxy.OperationError, present, completed, notified bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opErr, c.present, c.completed, c.notified
}

func (c *Command) finish(st State) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = st
	c.logf("%s finished: %s", c.name, st)
	return st
}

// logf logs a debug message if a logger is configured. Callers must
// hold c.mu.
func (c *Command) logf(format string, v ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, v...)
	}
}
