package ipa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/smnsjas/go-ipacore/afc"
	"github.com/smnsjas/go-ipacore/instproxy"
)

// Uninstall removes the app identified by bundleID from the device and
// blocks until the operation reaches a terminal state.
func (inst *Installer) Uninstall(ctx context.Context, bundleID string) error {
	cmd := inst.newCommand("Uninstall")
	expectNotification := inst.observeNotifications(cmd)

	if err := inst.Proxy.Uninstall(ctx, bundleID, nil, cmd.HandleStatus); err != nil {
		return inst.submitError("Uninstall", err)
	}
	_, err := cmd.Wait(ctx, inst.Monitor, expectNotification)
	return err
}

// ListOptions narrow an app listing.
type ListOptions struct {
	// ApplicationType restricts results to "User" or "System" apps.
	// Empty lists everything.
	ApplicationType string
	// Attributes limits which record attributes the pages carry.
	Attributes []string
	// BundleIDs restricts results to the given identifiers.
	BundleIDs []string
}

// List enumerates installed apps, delivering each result page to the
// installer's Browse callback as it arrives and returning the records
// of all pages once the listing completes. A single receive timeout is
// retried once; a second one fails the listing.
func (inst *Installer) List(ctx context.Context, opts *ListOptions) ([]map[string]any, error) {
	clientOpts := instproxy.NewOptions()
	if opts != nil {
		clientOpts.SetApplicationType(opts.ApplicationType)
		if len(opts.Attributes) > 0 {
			clientOpts.SetReturnAttributes(opts.Attributes...)
		}
		if len(opts.BundleIDs) > 0 {
			clientOpts.SetBundleIDs(opts.BundleIDs...)
		}
	}

	records, err := inst.browseOnce(ctx, clientOpts)
	if errors.Is(err, instproxy.ErrReceiveTimeout) {
		inst.logf("listing timed out, retrying once")
		records, err = inst.browseOnce(ctx, clientOpts)
	}
	return records, err
}

func (inst *Installer) browseOnce(ctx context.Context, clientOpts instproxy.Options) ([]map[string]any, error) {
	cmd := inst.newCommand(instproxy.CommandBrowse)

	var records []map[string]any
	cmd.OnBrowse(func(ev *instproxy.StatusEvent) {
		records = append(records, ev.BrowseList...)
		if inst.Browse != nil {
			inst.Browse(ev)
		}
	})

	if err := inst.Proxy.Browse(ctx, clientOpts, cmd.HandleStatus); err != nil {
		return nil, inst.submitError(instproxy.CommandBrowse, err)
	}
	if _, err := cmd.Wait(ctx, inst.Monitor, false); err != nil {
		return nil, err
	}
	return records, nil
}

// ArchiveOptions control what an archive operation captures and what
// happens to the resulting archive.
type ArchiveOptions struct {
	// ApplicationOnly captures only the app, DocumentsOnly only its
	// documents. Setting both is rejected by the device.
	ApplicationOnly bool
	DocumentsOnly   bool
	// Uninstall removes the app after archiving. By default it stays
	// installed.
	Uninstall bool
	// CopyPath, when set, names an existing local directory the device
	// archive is copied into as <bundleID>.ipa.
	CopyPath string
	// RemoveAfterCopy deletes the device-side archive once the copy
	// succeeds. Ignored without CopyPath.
	RemoveAfterCopy bool
}

// Archive archives the app identified by bundleID on the device,
// optionally copying the archive to a local directory afterwards.
func (inst *Installer) Archive(ctx context.Context, bundleID string, opts *ArchiveOptions) error {
	if opts == nil {
		opts = &ArchiveOptions{}
	}
	if opts.CopyPath != "" {
		fi, err := os.Stat(opts.CopyPath)
		if err != nil {
			return fmt.Errorf("ipa: archive copy destination: %w", err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("ipa: archive copy destination %s is not a directory", opts.CopyPath)
		}
	}

	clientOpts := instproxy.NewOptions().SetSkipUninstall(!opts.Uninstall)
	switch {
	case opts.ApplicationOnly:
		clientOpts.SetArchiveType("ApplicationOnly")
	case opts.DocumentsOnly:
		clientOpts.SetArchiveType("DocumentsOnly")
	}

	cmd := inst.newCommand("Archive")
	// Archiving with Uninstall removes the app, so the uninstall
	// notification confirms the operation like a plain Uninstall.
	expectNotification := false
	if opts.Uninstall {
		expectNotification = inst.observeNotifications(cmd)
	}
	if err := inst.Proxy.Archive(ctx, bundleID, clientOpts, cmd.HandleStatus); err != nil {
		return inst.submitError("Archive", err)
	}
	if _, err := cmd.Wait(ctx, inst.Monitor, expectNotification); err != nil {
		return err
	}

	if opts.CopyPath == "" {
		return nil
	}
	remote := path.Join(ArchivePath, bundleID+".zip")
	local := filepath.Join(opts.CopyPath, bundleID+".ipa")
	up := &afc.Uploader{FS: inst.FS}
	if err := up.Download(remote, local); err != nil {
		// A size mismatch leaves the partial copy in place but the
		// device-side archive must survive for another attempt.
		return err
	}
	if opts.RemoveAfterCopy {
		return inst.RemoveArchive(ctx, bundleID)
	}
	return nil
}

// Restore reinstalls the archived app identified by bundleID and
// blocks until the operation reaches a terminal state.
func (inst *Installer) Restore(ctx context.Context, bundleID string) error {
	cmd := inst.newCommand("Restore")
	expectNotification := inst.observeNotifications(cmd)

	if err := inst.Proxy.Restore(ctx, bundleID, nil, cmd.HandleStatus); err != nil {
		return inst.submitError("Restore", err)
	}
	_, err := cmd.Wait(ctx, inst.Monitor, expectNotification)
	return err
}

// RemoveArchive deletes the device-side archive of bundleID.
func (inst *Installer) RemoveArchive(ctx context.Context, bundleID string) error {
	cmd := inst.newCommand("RemoveArchive")
	if err := inst.Proxy.RemoveArchive(ctx, bundleID, nil, cmd.HandleStatus); err != nil {
		return inst.submitError("RemoveArchive", err)
	}
	_, err := cmd.Wait(ctx, inst.Monitor, false)
	return err
}

// ListArchives returns the device's archive dictionary, keyed by bundle
// identifier.
func (inst *Installer) ListArchives(ctx context.Context) (map[string]any, error) {
	archives, err := inst.Proxy.LookupArchives(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ipa: looking up archives: %w", err)
	}
	return archives, nil
}
