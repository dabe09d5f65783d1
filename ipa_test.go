package ipa

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/smnsjas/go-ipacore/afc"
	"github.com/smnsjas/go-ipacore/instproxy"
	"github.com/smnsjas/go-ipacore/supervisor"
)

const infoPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0"><dict>
	<key>CFBundleIdentifier</key><string>com.example.app</string>
	<key>CFBundleExecutable</key><string>Example</string>
	<key>CFBundleDisplayName</key><string>Example</string>
</dict></plist>`

const metadataPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0"><dict>
	<key>itemName</key><string>Example</string>
</dict></plist>`

type zipEntry struct {
	name string
	data []byte
}

// buildPackage writes a package of stored entries followed by the end
// of central directory marker and returns its path.
func buildPackage(t *testing.T, name string, entries []zipEntry) string {
	t.Helper()
	var buf bytes.Buffer
	for _, e := range entries {
		binary.Write(&buf, binary.LittleEndian, uint32(0x04034b50))
		binary.Write(&buf, binary.LittleEndian, uint16(20)) // version
		binary.Write(&buf, binary.LittleEndian, uint16(0))  // flags
		binary.Write(&buf, binary.LittleEndian, uint16(0))  // method: stored
		binary.Write(&buf, binary.LittleEndian, uint32(0))  // mod time/date
		binary.Write(&buf, binary.LittleEndian, uint32(0))  // crc
		binary.Write(&buf, binary.LittleEndian, uint32(len(e.data)))
		binary.Write(&buf, binary.LittleEndian, uint32(len(e.data)))
		binary.Write(&buf, binary.LittleEndian, uint16(len(e.name)))
		binary.Write(&buf, binary.LittleEndian, uint16(0)) // extra
		buf.WriteString(e.name)
		buf.Write(e.data)
	}
	binary.Write(&buf, binary.LittleEndian, uint32(0x06054b50))
	buf.Write(make([]byte, 18))

	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func appPackage(t *testing.T) string {
	t.Helper()
	return buildPackage(t, "example.ipa", []zipEntry{
		{"iTunesMetadata.plist", []byte(metadataPlist)},
		{"Payload/Example.app/", nil},
		{"Payload/Example.app/Info.plist", []byte(infoPlist)},
		{"Payload/Example.app/SC_Info/Example.sinf", []byte("sinf-blob")},
	})
}

// fakeProxy is a scripted installation service. Commands record their
// arguments and deliver status events synchronously from the submit
// call.
type fakeProxy struct {
	calls    []string
	lastPath string
	lastID   string
	lastOpts instproxy.Options

	fail           *instproxy.OperationError
	browseTimeouts int
	browsePages    [][]map[string]any
	afterDeliver   func()
	archives       map[string]any
}

func (p *fakeProxy) deliver(command string, status instproxy.StatusFunc) {
	if p.fail != nil {
		status(&instproxy.StatusEvent{Command: command, Status: "Failed", PercentComplete: -1, Err: p.fail})
		return
	}
	status(&instproxy.StatusEvent{Command: command, Status: "Installing", PercentComplete: 50})
	status(&instproxy.StatusEvent{Command: command, Status: instproxy.StatusComplete, PercentComplete: 100})
	if p.afterDeliver != nil {
		p.afterDeliver()
	}
}

func (p *fakeProxy) Install(_ context.Context, packagePath string, opts instproxy.Options, status instproxy.StatusFunc) error {
	p.calls = append(p.calls, "Install")
	p.lastPath, p.lastOpts = packagePath, opts
	p.deliver("Install", status)
	return nil
}

func (p *fakeProxy) Upgrade(_ context.Context, packagePath string, opts instproxy.Options, status instproxy.StatusFunc) error {
	p.calls = append(p.calls, "Upgrade")
	p.lastPath, p.lastOpts = packagePath, opts
	p.deliver("Upgrade", status)
	return nil
}

func (p *fakeProxy) Uninstall(_ context.Context, bundleID string, opts instproxy.Options, status instproxy.StatusFunc) error {
	p.calls = append(p.calls, "Uninstall")
	p.lastID, p.lastOpts = bundleID, opts
	p.deliver("Uninstall", status)
	return nil
}

func (p *fakeProxy) Browse(_ context.Context, opts instproxy.Options, status instproxy.StatusFunc) error {
	p.calls = append(p.calls, "Browse")
	p.lastOpts = opts
	if p.browseTimeouts > 0 {
		p.browseTimeouts--
		return fmt.Errorf("receiving response: %w", instproxy.ErrReceiveTimeout)
	}
	for i, page := range p.browsePages {
		status(&instproxy.StatusEvent{
			Command:         instproxy.CommandBrowse,
			PercentComplete: -1,
			BrowseTotal:     uint64(len(p.browsePages)),
			BrowseIndex:     uint64(i),
			BrowseAmount:    uint64(len(page)),
			BrowseList:      page,
		})
	}
	status(&instproxy.StatusEvent{Command: instproxy.CommandBrowse, Status: instproxy.StatusComplete, PercentComplete: 100})
	return nil
}

func (p *fakeProxy) Archive(_ context.Context, bundleID string, opts instproxy.Options, status instproxy.StatusFunc) error {
	p.calls = append(p.calls, "Archive")
	p.lastID, p.lastOpts = bundleID, opts
	p.deliver("Archive", status)
	return nil
}

func (p *fakeProxy) Restore(_ context.Context, bundleID string, opts instproxy.Options, status instproxy.StatusFunc) error {
	p.calls = append(p.calls, "Restore")
	p.lastID, p.lastOpts = bundleID, opts
	p.deliver("Restore", status)
	return nil
}

func (p *fakeProxy) RemoveArchive(_ context.Context, bundleID string, opts instproxy.Options, status instproxy.StatusFunc) error {
	p.calls = append(p.calls, "RemoveArchive")
	p.lastID, p.lastOpts = bundleID, opts
	p.deliver("RemoveArchive", status)
	return nil
}

func (p *fakeProxy) LookupArchives(_ context.Context, opts instproxy.Options) (map[string]any, error) {
	p.calls = append(p.calls, "LookupArchives")
	return p.archives, nil
}

// fakeNotifier records the observed handler so a test can fire
// notifications through it.
type fakeNotifier struct {
	handler func(name string)
	names   []string
}

func (n *fakeNotifier) Observe(handler func(name string), names ...string) error {
	n.handler = handler
	n.names = names
	return nil
}

func newInstaller(proxy *fakeProxy, fs afc.FileService) *Installer {
	return &Installer{
		FS:       fs,
		Proxy:    proxy,
		DeviceID: "00008030-000A1B2C3D4E5F60",
	}
}

func TestInstallStagesArchive(t *testing.T) {
	pkg := appPackage(t)
	proxy := &fakeProxy{}
	fs := afc.NewMemService()
	inst := newInstaller(proxy, fs)

	if err := inst.Install(context.Background(), pkg, nil); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	want := StagingPath + "/com.example.app"
	if proxy.lastPath != want {
		t.Errorf("installed %q, want %q", proxy.lastPath, want)
	}
	local, err := os.ReadFile(pkg)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(fs.FileData(want), local) {
		t.Error("staged archive differs from the local package")
	}
	if proxy.lastOpts["CFBundleIdentifier"] != "com.example.app" {
		t.Errorf("CFBundleIdentifier = %v", proxy.lastOpts["CFBundleIdentifier"])
	}
	sinf, _ := proxy.lastOpts["ApplicationSINF"].([]byte)
	if string(sinf) != "sinf-blob" {
		t.Errorf("ApplicationSINF = %q", sinf)
	}
	if proxy.lastOpts["iTunesMetadata"] == nil {
		t.Error("metadata not attached to client options")
	}
}

func TestInstallOptionOverrides(t *testing.T) {
	pkg := appPackage(t)
	proxy := &fakeProxy{}
	inst := newInstaller(proxy, afc.NewMemService())

	opts := &InstallOptions{SINF: []byte("external-sinf"), Metadata: []byte(metadataPlist)}
	if err := inst.Install(context.Background(), pkg, opts); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	sinf, _ := proxy.lastOpts["ApplicationSINF"].([]byte)
	if string(sinf) != "external-sinf" {
		t.Errorf("ApplicationSINF = %q, want the override", sinf)
	}
}

func TestInstallMissingPayload(t *testing.T) {
	pkg := buildPackage(t, "empty.ipa", []zipEntry{
		{"iTunesMetadata.plist", []byte(metadataPlist)},
	})
	inst := newInstaller(&fakeProxy{}, afc.NewMemService())

	err := inst.Install(context.Background(), pkg, nil)
	if !errors.Is(err, ErrMissingEntry) {
		t.Fatalf("Install = %v, want ErrMissingEntry", err)
	}
}

func TestInstallMissingInfoManifest(t *testing.T) {
	pkg := buildPackage(t, "noinfo.ipa", []zipEntry{
		{"Payload/Example.app/", nil},
		{"Payload/Example.app/binary", []byte("x")},
	})
	inst := newInstaller(&fakeProxy{}, afc.NewMemService())

	err := inst.Install(context.Background(), pkg, nil)
	if !errors.Is(err, ErrMissingEntry) {
		t.Fatalf("Install = %v, want ErrMissingEntry", err)
	}
}

func TestInstallCarrierBundle(t *testing.T) {
	pkg := buildPackage(t, "carrier.ipcc", []zipEntry{
		{"Payload/", nil},
		{"Payload/Carrier.bundle/", nil},
		{"Payload/Carrier.bundle/carrier.plist", []byte(metadataPlist)},
	})
	proxy := &fakeProxy{}
	fs := afc.NewMemService()
	inst := newInstaller(proxy, fs)

	if err := inst.Install(context.Background(), pkg, nil); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	base := StagingPath + "/carrier.ipcc"
	if proxy.lastPath != base {
		t.Errorf("installed %q, want %q", proxy.lastPath, base)
	}
	if proxy.lastOpts["PackageType"] != "CarrierBundle" {
		t.Errorf("PackageType = %v", proxy.lastOpts["PackageType"])
	}
	if !fs.HasDirectory(base + "/Payload/Carrier.bundle") {
		t.Error("bundle directory was not created")
	}
	if !bytes.Equal(fs.FileData(base+"/Payload/Carrier.bundle/carrier.plist"), []byte(metadataPlist)) {
		t.Error("carrier.plist content differs")
	}
}

func TestInstallDeveloperDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Example.app")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Example"), []byte("binary"), 0o644); err != nil {
		t.Fatal(err)
	}
	proxy := &fakeProxy{}
	fs := afc.NewMemService()
	inst := newInstaller(proxy, fs)

	if err := inst.Install(context.Background(), dir, nil); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if proxy.lastOpts["PackageType"] != "Developer" {
		t.Errorf("PackageType = %v", proxy.lastOpts["PackageType"])
	}
	if !bytes.Equal(fs.FileData(StagingPath+"/Example.app/Example"), []byte("binary")) {
		t.Error("bundle file was not uploaded")
	}
}

func TestUpgradeSubmitsUpgrade(t *testing.T) {
	pkg := appPackage(t)
	proxy := &fakeProxy{}
	inst := newInstaller(proxy, afc.NewMemService())

	if err := inst.Upgrade(context.Background(), pkg, nil); err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}
	if len(proxy.calls) != 1 || proxy.calls[0] != "Upgrade" {
		t.Errorf("calls = %v, want [Upgrade]", proxy.calls)
	}
}

func TestInstallWaitsForNotification(t *testing.T) {
	pkg := appPackage(t)
	notifier := &fakeNotifier{}
	proxy := &fakeProxy{}
	proxy.afterDeliver = func() {
		notifier.handler(NotificationAppInstalled)
	}
	inst := newInstaller(proxy, afc.NewMemService())
	inst.Notifier = notifier

	if err := inst.Install(context.Background(), pkg, nil); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if len(notifier.names) != 2 {
		t.Errorf("observed names = %v", notifier.names)
	}
}

func TestUninstallPropagatesErrorRecord(t *testing.T) {
	proxy := &fakeProxy{fail: &instproxy.OperationError{Name: "NotInstalled", Code: 0x2}}
	inst := newInstaller(proxy, afc.NewMemService())

	err := inst.Uninstall(context.Background(), "com.example.app")
	var op *instproxy.OperationError
	if !errors.As(err, &op) || op.Name != "NotInstalled" {
		t.Fatalf("Uninstall = %v, want the operation error record", err)
	}
	if proxy.lastID != "com.example.app" {
		t.Errorf("uninstalled %q", proxy.lastID)
	}
}

func TestListCollectsPages(t *testing.T) {
	proxy := &fakeProxy{browsePages: [][]map[string]any{
		{{"CFBundleIdentifier": "com.example.a"}, {"CFBundleIdentifier": "com.example.b"}},
		{{"CFBundleIdentifier": "com.example.c"}},
	}}
	inst := newInstaller(proxy, afc.NewMemService())

	var pages int
	inst.Browse = func(*instproxy.StatusEvent) { pages++ }

	records, err := inst.List(context.Background(), &ListOptions{ApplicationType: "User"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("got %d records, want 3", len(records))
	}
	if pages != 2 {
		t.Errorf("browse callback saw %d pages, want 2", pages)
	}
	if proxy.lastOpts["ApplicationType"] != "User" {
		t.Errorf("ApplicationType = %v", proxy.lastOpts["ApplicationType"])
	}
}

func TestListRetriesTimeoutOnce(t *testing.T) {
	proxy := &fakeProxy{
		browseTimeouts: 1,
		browsePages:    [][]map[string]any{{{"CFBundleIdentifier": "com.example.a"}}},
	}
	inst := newInstaller(proxy, afc.NewMemService())

	records, err := inst.List(context.Background(), nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records, want 1", len(records))
	}
	if got := len(proxy.calls); got != 2 {
		t.Errorf("Browse submitted %d times, want 2", got)
	}
}

func TestListFailsOnSecondTimeout(t *testing.T) {
	proxy := &fakeProxy{browseTimeouts: 2}
	inst := newInstaller(proxy, afc.NewMemService())

	_, err := inst.List(context.Background(), nil)
	if !errors.Is(err, instproxy.ErrReceiveTimeout) {
		t.Fatalf("List = %v, want ErrReceiveTimeout", err)
	}
	if got := len(proxy.calls); got != 2 {
		t.Errorf("Browse submitted %d times, want 2", got)
	}
}

func TestArchiveCopiesAndRemoves(t *testing.T) {
	proxy := &fakeProxy{}
	fs := afc.NewMemService()
	archive := []byte("archived app bytes")
	fs.Put(ArchivePath+"/com.example.app.zip", archive)
	inst := newInstaller(proxy, fs)

	dst := t.TempDir()
	err := inst.Archive(context.Background(), "com.example.app", &ArchiveOptions{
		ApplicationOnly: true,
		CopyPath:        dst,
		RemoveAfterCopy: true,
	})
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	copied, err := os.ReadFile(filepath.Join(dst, "com.example.app.ipa"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(copied, archive) {
		t.Error("copied archive differs from the device archive")
	}
	if len(proxy.calls) != 2 || proxy.calls[1] != "RemoveArchive" {
		t.Errorf("calls = %v, want [Archive RemoveArchive]", proxy.calls)
	}
}

func TestArchiveKeepsDeviceCopyOnSizeMismatch(t *testing.T) {
	proxy := &fakeProxy{}
	fs := afc.NewMemService()
	fs.Put(ArchivePath+"/com.example.app.zip", []byte("archive"))
	inst := newInstaller(proxy, truncatingFS{fs})

	err := inst.Archive(context.Background(), "com.example.app", &ArchiveOptions{
		CopyPath:        t.TempDir(),
		RemoveAfterCopy: true,
	})
	if !errors.Is(err, afc.ErrSizeMismatch) {
		t.Fatalf("Archive = %v, want ErrSizeMismatch", err)
	}
	for _, call := range proxy.calls {
		if call == "RemoveArchive" {
			t.Error("device archive removed despite the failed copy")
		}
	}
}

func TestArchiveWithUninstallWaitsForNotification(t *testing.T) {
	notifier := &fakeNotifier{}
	proxy := &fakeProxy{}
	proxy.afterDeliver = func() {
		notifier.handler(NotificationAppUninstalled)
	}
	inst := newInstaller(proxy, afc.NewMemService())
	inst.Notifier = notifier

	err := inst.Archive(context.Background(), "com.example.app", &ArchiveOptions{Uninstall: true})
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if notifier.handler == nil {
		t.Error("uninstalling archive did not subscribe to notifications")
	}
	if proxy.lastOpts["SkipUninstall"] != false {
		t.Errorf("SkipUninstall = %v, want false", proxy.lastOpts["SkipUninstall"])
	}
}

func TestArchiveWithoutUninstallSkipsNotifier(t *testing.T) {
	notifier := &fakeNotifier{}
	inst := newInstaller(&fakeProxy{}, afc.NewMemService())
	inst.Notifier = notifier

	if err := inst.Archive(context.Background(), "com.example.app", nil); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if notifier.handler != nil {
		t.Error("archive without uninstall should not subscribe to notifications")
	}
}

func TestArchiveRejectsMissingCopyPath(t *testing.T) {
	inst := newInstaller(&fakeProxy{}, afc.NewMemService())
	err := inst.Archive(context.Background(), "com.example.app", &ArchiveOptions{
		CopyPath: filepath.Join(t.TempDir(), "absent"),
	})
	if err == nil {
		t.Fatal("expected error for missing copy destination")
	}
}

func TestRestoreAndRemoveArchive(t *testing.T) {
	proxy := &fakeProxy{}
	inst := newInstaller(proxy, afc.NewMemService())

	if err := inst.Restore(context.Background(), "com.example.app"); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if err := inst.RemoveArchive(context.Background(), "com.example.app"); err != nil {
		t.Fatalf("RemoveArchive failed: %v", err)
	}
	if len(proxy.calls) != 2 || proxy.calls[0] != "Restore" || proxy.calls[1] != "RemoveArchive" {
		t.Errorf("calls = %v", proxy.calls)
	}
}

func TestEnableDebugLogging(t *testing.T) {
	inst := newInstaller(&fakeProxy{}, afc.NewMemService())
	inst.EnableDebugLogging()
	if inst.Logger == nil {
		t.Fatal("EnableDebugLogging did not install a logger")
	}
}

func TestListArchives(t *testing.T) {
	proxy := &fakeProxy{archives: map[string]any{
		"com.example.app": map[string]any{"CFBundleVersion": "1.0"},
	}}
	inst := newInstaller(proxy, afc.NewMemService())

	archives, err := inst.ListArchives(context.Background())
	if err != nil {
		t.Fatalf("ListArchives failed: %v", err)
	}
	if _, ok := archives["com.example.app"]; !ok {
		t.Errorf("archives = %v", archives)
	}
}

func TestInstallCancelledOnDeviceRemoval(t *testing.T) {
	pkg := appPackage(t)
	inst := newInstaller(nil, afc.NewMemService())
	inst.Proxy = silentProxy{}
	inst.Monitor = removalMonitor{deviceID: inst.DeviceID}

	// The monitor reports the device gone during subscription and the
	// proxy never delivers a status, so the wait cancels on its first
	// presence check.
	err := inst.Install(context.Background(), pkg, nil)
	if !errors.Is(err, supervisor.ErrDeviceDisconnected) {
		t.Fatalf("Install = %v, want ErrDeviceDisconnected", err)
	}
}

// truncatingFS drops the final byte of every remote read so downloads
// come up short against the stat size.
type truncatingFS struct {
	*afc.MemService
}

func (t truncatingFS) OpenForRead(p string) (afc.File, error) {
	f, err := t.MemService.OpenForRead(p)
	if err != nil {
		return nil, err
	}
	return truncatedFile{f: f}, nil
}

type truncatedFile struct {
	f afc.File
}

func (t truncatedFile) Read(p []byte) (uint32, error) {
	n, err := t.f.Read(p)
	if n > 0 {
		n--
	}
	return n, err
}

func (t truncatedFile) Write(p []byte) (uint32, error) { return t.f.Write(p) }
func (t truncatedFile) Close() error                   { return t.f.Close() }

// removalMonitor reports the device removed as soon as it is
// subscribed to.
type removalMonitor struct {
	deviceID string
}

func (m removalMonitor) Subscribe(handler func(supervisor.PresenceEvent)) error {
	handler(supervisor.PresenceEvent{Kind: supervisor.DeviceRemoved, DeviceID: m.deviceID})
	return nil
}

func (m removalMonitor) Unsubscribe() error { return nil }

// silentProxy accepts every command without ever reporting status.
type silentProxy struct{}

func (silentProxy) Install(context.Context, string, instproxy.Options, instproxy.StatusFunc) error {
	return nil
}
func (silentProxy) Upgrade(context.Context, string, instproxy.Options, instproxy.StatusFunc) error {
	return nil
}
func (silentProxy) Uninstall(context.Context, string, instproxy.Options, instproxy.StatusFunc) error {
	return nil
}
func (silentProxy) Browse(context.Context, instproxy.Options, instproxy.StatusFunc) error {
	return nil
}
func (silentProxy) Archive(context.Context, string, instproxy.Options, instproxy.StatusFunc) error {
	return nil
}
func (silentProxy) Restore(context.Context, string, instproxy.Options, instproxy.StatusFunc) error {
	return nil
}
func (silentProxy) RemoveArchive(context.Context, string, instproxy.Options, instproxy.StatusFunc) error {
	return nil
}
func (silentProxy) LookupArchives(context.Context, instproxy.Options) (map[string]any, error) {
	return nil, nil
}
