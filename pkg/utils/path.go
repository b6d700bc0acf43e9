package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinBase reports an error unless path, once cleaned, names base itself or
// something below it. A relative path is taken relative to base.
func ValidatePathWithinBase(base, path string) error {
	if base == "" {
		return fmt.Errorf("base path cannot be empty")
	}
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	full := filepath.Clean(path)
	if !filepath.IsAbs(full) {
		full = filepath.Join(base, full)
	}
	if !within(filepath.Clean(base), full) {
		return fmt.Errorf("path %s is outside base directory %s", path, base)
	}
	return nil
}

// SecureJoin joins elements onto base like filepath.Join, failing when ".." elements would
// climb out of base.
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	full := filepath.Join(append([]string{cleanBase}, elements...)...)
	if !within(cleanBase, full) {
		return "", fmt.Errorf("path %s escapes base directory %s", filepath.Join(elements...), base)
	}
	return full, nil
}

func within(base, path string) bool {
	if path == base {
		return true
	}
	prefix := base
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}
