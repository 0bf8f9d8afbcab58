// Package fileutil provides filename sanitizing, JSON file I/O, and content
// checksums for the on-disk package format.
package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxSlugLen bounds sanitized names so path components stay well under
// filesystem limits even after the id prefix is attached.
const maxSlugLen = 100

// SanitizeFilename converts an arbitrary entity name into an ASCII-safe,
// length-bounded, case-preserving slug usable as a path component.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		default:
			// Non-ASCII and punctuation collapse to underscore.
			b.WriteRune('_')
		}
	}
	s := b.String()
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "._")
	if len(s) > maxSlugLen {
		s = s[:maxSlugLen]
		s = strings.Trim(s, "._")
	}
	if s == "" {
		return "untitled"
	}
	return s
}

// WriteJSONFile marshals v with indentation and writes it to path, creating
// parent directories as needed.
func WriteJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadJSONFile unmarshals the JSON file at path into v.
func ReadJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// ReadJSONMap reads a JSON object file as a generic tree.
func ReadJSONMap(path string) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := ReadJSONFile(path, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ChecksumFile returns the SHA-256 hex digest of the file contents.
func ChecksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
