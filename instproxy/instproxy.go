// Package instproxy models the device's installation-management
// service at its interface boundary.
//
// The wire protocol itself (service startup, the property-list RPC
// framing) is the consumer's concern; this package defines the
// operations the service offers, the options dictionaries they accept,
// and the asynchronous status events they report. The transport glue
// decodes each status property list with DecodeStatus and hands the
// resulting StatusEvent to the operation's StatusFunc.
package instproxy

import (
	"context"
	"errors"
	"fmt"

	"howett.net/plist"
)

// StatusComplete is the terminal success status name reported by the
// service for every command kind.
const StatusComplete = "Complete"

// CommandBrowse is the command name whose status events carry pages of
// result records instead of a status name.
const CommandBrowse = "Browse"

// ErrReceiveTimeout signals a transient receive timeout on a request.
// It is the only error in the system that is ever retried, and only by
// the listing flow, exactly once.
var ErrReceiveTimeout = errors.New("instproxy: receive timeout")

// OperationError is the error record a status event can carry.
type OperationError struct {
	Name        string
	Description string
	Code        uint64
}

func (e *OperationError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s (0x%08x): %s", e.Name, e.Code, e.Description)
	}
	return e.Name
}

// StatusEvent is one asynchronous progress report for a running
// command.
type StatusEvent struct {
	// Command is the name of the command the event belongs to.
	Command string

	// Status is the human-readable status name, empty for browse pages.
	Status string

	// PercentComplete is the reported progress, or -1 when absent.
	PercentComplete int

	// Err is set when the event carries an error record.
	Err *OperationError

	// Browse page fields, set only for CommandBrowse events.
	BrowseTotal  uint64
	BrowseIndex  uint64
	BrowseAmount uint64
	BrowseList   []map[string]any
}

// StatusFunc receives status events for one command. Events may be
// delivered from the transport's I/O goroutine.
type StatusFunc func(*StatusEvent)

// ParseStatus builds a StatusEvent from decoded command and status
// dictionaries.
func ParseStatus(command, status map[string]any) *StatusEvent {
	ev := &StatusEvent{PercentComplete: -1}
	ev.Command, _ = command["Command"].(string)
	ev.Status, _ = status["Status"].(string)

	if name, ok := status["Error"].(string); ok {
		oe := &OperationError{Name: name}
		oe.Description, _ = status["ErrorDescription"].(string)
		oe.Code = toUint64(status["ErrorDetail"])
		ev.Err = oe
	}

	if pc, ok := status["PercentComplete"]; ok {
		ev.PercentComplete = int(toUint64(pc))
	}

	ev.BrowseTotal = toUint64(status["Total"])
	ev.BrowseIndex = toUint64(status["CurrentIndex"])
	ev.BrowseAmount = toUint64(status["CurrentAmount"])
	if list, ok := status["CurrentList"].([]any); ok {
		for _, item := range list {
			if rec, ok := item.(map[string]any); ok {
				ev.BrowseList = append(ev.BrowseList, rec)
			}
		}
	}
	return ev
}

// DecodeStatus decodes raw command and status property lists into a
// StatusEvent.
func DecodeStatus(commandData, statusData []byte) (*StatusEvent, error) {
	var command, status map[string]any
	if _, err := plist.Unmarshal(commandData, &command); err != nil {
		return nil, fmt.Errorf("instproxy: decoding command plist: %w", err)
	}
	if _, err := plist.Unmarshal(statusData, &status); err != nil {
		return nil, fmt.Errorf("instproxy: decoding status plist: %w", err)
	}
	return ParseStatus(command, status), nil
}

// toUint64 widens the integer representations the plist decoder can
// produce.
func toUint64(v any) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	case int:
		return uint64(n)
	case float64:
		return uint64(n)
	}
	return 0
}

// Service is the remote installation-management service. All command
// operations are asynchronous: they return once the command has been
// submitted and report progress through status. LookupArchives is the
// one synchronous query.
type Service interface {
	Install(ctx context.Context, packagePath string, opts Options, status StatusFunc) error
	Upgrade(ctx context.Context, packagePath string, opts Options, status StatusFunc) error
	Uninstall(ctx context.Context, bundleID string, opts Options, status StatusFunc) error
	Browse(ctx context.Context, opts Options, status StatusFunc) error
	Archive(ctx context.Context, bundleID string, opts Options, status StatusFunc) error
	Restore(ctx context.Context, bundleID string, opts Options, status StatusFunc) error
	RemoveArchive(ctx context.Context, bundleID string, opts Options, status StatusFunc) error
	LookupArchives(ctx context.Context, opts Options) (map[string]any, error)
}
