// Package ipa installs, archives, and manages application packages on
// a remote device.
//
// This library implements the install-side logic only, following the
// sans-IO pattern: it parses and stages the package archive, drives the
// remote services, and supervises the asynchronous command lifecycle,
// while the device transports themselves (discovery and pairing, the
// secure session handshake, the file-transfer and installation-service
// wire protocols) are provided by the consumer behind small interfaces.
//
// # Architecture
//
// The library is organized into layers:
//
//   - Installer: high-level facade for install/upgrade/uninstall,
//     listing, and app archive management
//   - zipstream: forward-only archive scanning, decompression, and
//     extraction
//   - instproxy: installation-service operations and status events
//   - supervisor: asynchronous command completion and device presence
//   - afc: remote file-transfer boundary and package upload helpers
//   - manifest: property-list metadata decoding
//
// # Basic Usage
//
//	inst := &ipa.Installer{
//	    FS:       fileService,   // consumer's file-transfer transport
//	    Proxy:    installProxy,  // consumer's install-service transport
//	    Monitor:  monitor,       // consumer's device-presence source
//	    DeviceID: udid,
//	}
//	if err := inst.Install(ctx, "App.ipa", nil); err != nil {
//	    return err
//	}
//
// Install blocks until the device reports terminal success, a status
// event carries an error record, or the device disconnects.
package ipa
