package ipa

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/smnsjas/go-ipacore/afc"
	"github.com/smnsjas/go-ipacore/instproxy"
	"github.com/smnsjas/go-ipacore/supervisor"
)

// Remote staging locations used by the install and archive flows.
const (
	// StagingPath is the device directory packages are uploaded to
	// before installation.
	StagingPath = "PublicStaging"
	// ArchivePath is the device directory holding archived apps.
	ArchivePath = "ApplicationArchives"
)

// Side-channel notification names confirming install operations.
const (
	NotificationAppInstalled   = "com.apple.mobile.application_installed"
	NotificationAppUninstalled = "com.apple.mobile.application_uninstalled"
)

// ErrMissingEntry is returned when a package lacks an entry the install
// flow requires, such as the application directory or its manifest.
var ErrMissingEntry = errors.New("ipa: required package entry not found")

// Notifier observes side-channel device notifications. Optional: when
// an Installer has no Notifier, operations do not wait for the
// confirmation notification after completing.
type Notifier interface {
	Observe(handler func(name string), names ...string) error
}

// Installer is the high-level facade over the device collaborators.
// All fields referenced by an operation must be set before calling it;
// FS is only needed by the install and archive-copy flows.
//
// An Installer is configured once per invocation and holds no state of
// its own between operations; each operation creates a fresh
// supervised command.
type Installer struct {
	// FS is the device file-transfer service.
	FS afc.FileService
	// Proxy is the device installation-management service.
	Proxy instproxy.Service
	// Monitor delivers device-presence events; a removal of DeviceID
	// cancels an in-flight wait. May be nil, in which case presence
	// never changes.
	Monitor supervisor.PresenceMonitor
	// Notifier observes install/uninstall notifications. Optional.
	Notifier Notifier
	// DeviceID identifies the target device in presence events.
	DeviceID string
	// Logger receives debug output. Optional.
	Logger supervisor.Logger
	// Status observes every status event of every operation. Optional.
	Status instproxy.StatusFunc
	// Browse receives listing result pages. Optional.
	Browse func(*instproxy.StatusEvent)
}

// newCommand creates the supervised command for one operation and
// wires the installer's observers into it.
func (inst *Installer) newCommand(name string) *supervisor.Command {
	cmd := supervisor.New(name, inst.DeviceID)
	if inst.Logger != nil {
		cmd.SetLogger(inst.Logger)
	}
	if inst.Status != nil {
		cmd.OnStatus(inst.Status)
	}
	return cmd
}

// observeNotifications subscribes cmd to the install notification
// names and reports whether a notification should be waited for.
func (inst *Installer) observeNotifications(cmd *supervisor.Command) bool {
	if inst.Notifier == nil {
		return false
	}
	err := inst.Notifier.Observe(cmd.HandleNotification,
		NotificationAppInstalled, NotificationAppUninstalled)
	if err != nil {
		inst.logf("warning: could not observe notifications: %v", err)
		return false
	}
	return true
}

func (inst *Installer) submitError(command string, err error) error {
	return fmt.Errorf("ipa: submitting %s: %w", command, err)
}

// EnableDebugLogging enables debug logging to stderr using the standard
// log package. The logger also propagates to every supervised command.
func (inst *Installer) EnableDebugLogging() {
	inst.Logger = log.New(os.Stderr, "[ipa] ", log.LstdFlags)
}

// logf logs a debug message if a logger is configured.
func (inst *Installer) logf(format string, v ...interface{}) {
	if inst.Logger != nil {
		inst.Logger.Printf(format, v...)
	}
}
