package ipa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/smnsjas/go-ipacore/afc"
	"github.com/smnsjas/go-ipacore/instproxy"
	"github.com/smnsjas/go-ipacore/manifest"
	"github.com/smnsjas/go-ipacore/zipstream"
)

// InstallOptions carries optional overrides for an install or upgrade.
type InstallOptions struct {
	// SINF replaces the SC_Info blob extracted from the package.
	SINF []byte
	// Metadata replaces the store metadata extracted from the package.
	Metadata []byte
}

// Install stages the package at pkgPath on the device and installs it.
// Packages ending in ".ipcc" are treated as carrier bundles, local
// directories as developer app bundles, and everything else as an app
// archive. Blocks until the operation reaches a terminal state.
func (inst *Installer) Install(ctx context.Context, pkgPath string, opts *InstallOptions) error {
	return inst.install(ctx, pkgPath, opts, upgradeNo)
}

// Upgrade is Install with upgrade semantics: an existing app with the
// same bundle identifier is replaced instead of rejected.
func (inst *Installer) Upgrade(ctx context.Context, pkgPath string, opts *InstallOptions) error {
	return inst.install(ctx, pkgPath, opts, upgradeYes)
}

const (
	upgradeNo  = "Install"
	upgradeYes = "Upgrade"
)

func (inst *Installer) install(ctx context.Context, pkgPath string, opts *InstallOptions, command string) error {
	if err := inst.ensureStaging(); err != nil {
		return err
	}

	clientOpts := instproxy.NewOptions()
	var pkgname string
	var err error
	fi, statErr := os.Stat(pkgPath)
	switch {
	case strings.HasSuffix(pkgPath, ".ipcc"):
		pkgname, err = inst.stageCarrierBundle(pkgPath)
		clientOpts.SetPackageType("CarrierBundle")
	case statErr == nil && fi.IsDir():
		pkgname = path.Join(StagingPath, path.Base(pkgPath))
		up := &afc.Uploader{FS: inst.FS}
		err = up.UploadDir(pkgPath, pkgname)
		clientOpts.SetPackageType("Developer")
	default:
		pkgname, err = inst.stageArchive(pkgPath, opts, clientOpts)
	}
	if err != nil {
		return err
	}

	cmd := inst.newCommand(command)
	expectNotification := inst.observeNotifications(cmd)

	if command == upgradeYes {
		err = inst.Proxy.Upgrade(ctx, pkgname, clientOpts, cmd.HandleStatus)
	} else {
		err = inst.Proxy.Install(ctx, pkgname, clientOpts, cmd.HandleStatus)
	}
	if err != nil {
		return inst.submitError(command, err)
	}

	_, err = cmd.Wait(ctx, inst.Monitor, expectNotification)
	return err
}

// ensureStaging creates the device staging directory if it is missing.
func (inst *Installer) ensureStaging() error {
	if _, err := inst.FS.Stat(StagingPath); err == nil {
		return nil
	} else if !errors.Is(err, afc.ErrNotFound) {
		return fmt.Errorf("ipa: checking staging directory: %w", err)
	}
	if err := inst.FS.MakeDirectory(StagingPath); err != nil {
		return fmt.Errorf("ipa: creating staging directory: %w", err)
	}
	return nil
}

// stageCarrierBundle streams every entry of the .ipcc archive into a
// directory tree under the staging path and returns that directory.
func (inst *Installer) stageCarrierBundle(pkgPath string) (string, error) {
	dst := path.Join(StagingPath, path.Base(pkgPath))
	if err := inst.FS.MakeDirectory(dst); err != nil {
		return "", fmt.Errorf("ipa: creating %s: %w", dst, err)
	}

	s, err := zipstream.Open(pkgPath)
	if err != nil {
		return "", err
	}
	defer s.Close()

	for {
		e, err := s.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", err
		}
		remote := path.Join(dst, e.Name)
		if e.IsDir() {
			if err := inst.FS.MakeDirectory(remote); err != nil {
				return "", fmt.Errorf("ipa: creating %s: %w", remote, err)
			}
			continue
		}
		f, err := inst.FS.OpenForWrite(remote)
		if err != nil {
			return "", fmt.Errorf("ipa: opening %s for writing: %w", remote, err)
		}
		_, err = s.Extract(e, zipstream.NewRemoteSink(f))
		f.Close()
		if err != nil {
			return "", fmt.Errorf("ipa: extracting %s: %w", e.Name, err)
		}
	}
	return dst, nil
}

// stageArchive uploads an app archive, pulls its metadata out of the
// package, and populates the client options from it. It returns the
// remote path the archive was staged at.
func (inst *Installer) stageArchive(pkgPath string, opts *InstallOptions, clientOpts instproxy.Options) (string, error) {
	s, err := zipstream.Open(pkgPath)
	if err != nil {
		return "", err
	}
	defer s.Close()

	meta := opts.metadata()
	if meta == nil {
		meta, err = s.ExtractNamed(manifest.MetadataName)
		if err != nil {
			return "", err
		}
	}
	if meta != nil {
		if _, err := manifest.ParseDict(meta); err != nil {
			inst.logf("warning: could not parse %s: %v", manifest.MetadataName, err)
			meta = nil
		}
	}

	appRoot, err := zipstream.LocateAppRoot(s)
	if err != nil {
		return "", err
	}
	if appRoot == "" {
		return "", fmt.Errorf("%w: application directory under Payload/", ErrMissingEntry)
	}
	inst.logf("staging application from %s", appRoot)

	infoData, err := s.ExtractNamed(appRoot + manifest.InfoName)
	if err != nil {
		return "", err
	}
	if infoData == nil {
		return "", fmt.Errorf("%w: %s%s", ErrMissingEntry, appRoot, manifest.InfoName)
	}
	info, err := manifest.ParseAppInfo(infoData)
	if err != nil {
		return "", err
	}
	if info.BundleIdentifier == "" {
		return "", fmt.Errorf("%w: CFBundleIdentifier in %s%s", ErrMissingEntry, appRoot, manifest.InfoName)
	}

	sinf := opts.sinf()
	if sinf == nil && info.BundleExecutable != "" {
		sinf, err = s.ExtractNamed(manifest.SinfPath(info.BundleExecutable))
		if err != nil {
			return "", err
		}
		if sinf == nil {
			inst.logf("no SINF blob in package for %s", info.BundleExecutable)
		}
	}

	pkgname := path.Join(StagingPath, info.BundleIdentifier)
	up := &afc.Uploader{FS: inst.FS}
	if err := up.UploadFile(pkgPath, pkgname); err != nil {
		return "", err
	}

	clientOpts.SetBundleIdentifier(info.BundleIdentifier)
	if sinf != nil {
		clientOpts.SetApplicationSINF(sinf)
	}
	if meta != nil {
		clientOpts.SetMetadata(meta)
	}
	return pkgname, nil
}

func (o *InstallOptions) metadata() []byte {
	if o == nil {
		return nil
	}
	return o.Metadata
}

func (o *InstallOptions) sinf() []byte {
	if o == nil {
		return nil
	}
	return o.SINF
}
