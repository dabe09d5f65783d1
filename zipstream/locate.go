package zipstream

import (
	"io"
	"strings"
)

const (
	payloadPrefix = "Payload/"
	appDirSuffix  = ".app"
)

// LocateAppRoot scans forward for the application's root directory
// inside the package: the first entry of the form "Payload/<name>.app/..."
// whose top-level segment is not hidden. It returns the directory prefix
// including the trailing separator (for example "Payload/Foo.app/"), or
// "" when no such entry exists before the entry sequence ends.
//
// The first match wins; if a package holds more than one application
// directory the others are never looked at.
func LocateAppRoot(s *Scanner) (string, error) {
	for {
		e, err := s.Next()
		if err == io.EOF {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		name := e.Name
		if !strings.HasPrefix(name, payloadPrefix) || len(name) <= len(payloadPrefix) {
			continue
		}
		rest := name[len(payloadPrefix):]
		if rest[0] == '.' {
			// Hidden file dropped into Payload/ by a desktop OS.
			continue
		}
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			continue
		}
		dir := name[:len(payloadPrefix)+slash+1]
		if len(dir) < 12 || !strings.HasSuffix(dir[:len(dir)-1], appDirSuffix) {
			continue
		}
		return dir, nil
	}
}
