// Package manifest decodes the property-list metadata carried inside
// an app package.
package manifest

import (
	"errors"
	"fmt"

	"howett.net/plist"
)

// Well-known metadata entry names inside a package.
const (
	// MetadataName is the store metadata file at the archive root.
	MetadataName = "iTunesMetadata.plist"
	// InfoName is the manifest file inside the application directory.
	InfoName = "Info.plist"
)

// ErrUnparseable is returned when a metadata buffer cannot be decoded
// as a property list.
var ErrUnparseable = errors.New("manifest: unparseable property list")

// AppInfo is the subset of an application manifest the install flow
// needs.
type AppInfo struct {
	BundleIdentifier string `plist:"CFBundleIdentifier"`
	BundleExecutable string `plist:"CFBundleExecutable"`
	DisplayName      string `plist:"CFBundleDisplayName"`
	Version          string `plist:"CFBundleShortVersionString"`
}

// ParseAppInfo decodes an application manifest (Info.plist) buffer.
// Both binary and XML property lists are accepted.
func ParseAppInfo(data []byte) (*AppInfo, error) {
	var info AppInfo
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return &info, nil
}

// ParseDict decodes an arbitrary property-list dictionary, as used for
// iTunesMetadata validation.
func ParseDict(data []byte) (map[string]any, error) {
	var dict map[string]any
	if _, err := plist.Unmarshal(data, &dict); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return dict, nil
}

// SinfPath returns the archive path of the SINF blob belonging to the
// named bundle executable.
func SinfPath(executable string) string {
	return fmt.Sprintf("Payload/%s.app/SC_Info/%s.sinf", executable, executable)
}
