package storage

import (
	"fmt"
	"path"
	"strings"
)

// MarkerName is the file name of the version marker, both in the blob
// store and in a local cache directory.
const MarkerName = ".version"

// VersionPrefix returns the key prefix under which one version's documents
// live, always ending in "/".
func VersionPrefix(folder, version string) string {
	p := path.Join(strings.Trim(folder, "/"), version)
	return strings.TrimPrefix(p, "/") + "/"
}

// DocumentKey returns the key of one file under a version prefix.
func DocumentKey(folder, version, fileName string) string {
	return VersionPrefix(folder, version) + fileName
}

// MarkerKey returns the key of the version marker mirrored in the blob store.
func MarkerKey(folder, version string) string {
	return DocumentKey(folder, version, MarkerName)
}

// ValidateVersion rejects version tokens that would not stay one path
// segment below the folder.
func ValidateVersion(version string) error {
	switch {
	case version == "":
		return fmt.Errorf("version is required")
	case version == "." || version == ".." || strings.ContainsAny(version, `/\`):
		return fmt.Errorf("invalid version %q: must be a single path segment", version)
	}
	return nil
}
