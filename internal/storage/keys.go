package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename flattens an archive path into a single safe file name.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.Trim(name, "/")
	name = strings.ReplaceAll(name, "/", "_")
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "file"
	}
	if len(name) > 180 {
		ext := path.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = name[:180-len(ext)] + ext
	}
	return name
}

func importPrefix(orgID, importID string) string {
	return path.Join("organizations", SanitizeFilename(orgID), "imports", SanitizeFilename(importID))
}

// PackageKey is where the original upload is stored. The stamp is the job's
// creation time, so the key is stable for the life of one job.
func PackageKey(orgID, importID, fileName string, stamp time.Time) string {
	ext := strings.ToLower(path.Ext(fileName))
	if ext == "" {
		ext = ".zip"
	}
	return path.Join(importPrefix(orgID, importID),
		fmt.Sprintf("package-%s-%d%s", SanitizeFilename(importID), stamp.UnixMilli(), ext))
}

// AssetKey is where a relocated archive asset is stored.
func AssetKey(orgID, importID, archivePath string, stamp time.Time) string {
	return path.Join(importPrefix(orgID, importID), "assets",
		fmt.Sprintf("%d-%s", stamp.UnixMilli(), SanitizeFilename(archivePath)))
}

// IsAssetKey reports whether key has the AssetKey layout. Only these keys are
// safe to serve publicly; package uploads live beside them.
func IsAssetKey(key string) bool {
	key, err := CleanKey(key)
	if err != nil {
		return false
	}
	parts := strings.Split(key, "/")
	return len(parts) == 6 && parts[0] == "organizations" && parts[2] == "imports" && parts[4] == "assets"
}
