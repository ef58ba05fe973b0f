// Package vaultpath centralizes vault-relative path normalization and safe
// joining.
package vaultpath

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrTraversal is returned when a relative path would escape the vault root.
var ErrTraversal = errors.New("vaultpath: path escapes vault root")

// Normalize converts a path to forward-slash, vault-relative form without a
// leading "./" or separator, preserving case.
func Normalize(p string) string {
	p = filepath.ToSlash(p)
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "/")
	return cleanPath(p)
}

func cleanPath(p string) string {
	cleaned := filepath.ToSlash(filepath.Clean(p))
	if cleaned == "." {
		return ""
	}
	return cleaned
}

// AddMdSuffix appends ".md" if not already present.
func AddMdSuffix(p string) string {
	if strings.HasSuffix(p, ".md") {
		return p
	}
	return p + ".md"
}

// Basename returns the file basename without its extension.
func Basename(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Join safely joins vaultRoot (absolute) with a vault-relative path,
// rejecting any path that would escape the root.
func Join(vaultRoot, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", ErrTraversal
	}
	cleanRel := filepath.Clean(strings.TrimPrefix(filepath.FromSlash(rel), string(filepath.Separator)))
	if cleanRel == "." || cleanRel == "" {
		return "", errors.New("vaultpath: empty relative path")
	}

	absRoot, err := filepath.Abs(vaultRoot)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(absRoot, cleanRel)
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	if absJoined != absRoot && !strings.HasPrefix(absJoined, absRoot+string(filepath.Separator)) {
		return "", ErrTraversal
	}
	return absJoined, nil
}

// HasIgnoredPrefix reports whether the ignore-prefix list contains a prefix of rel
// (vault-relative, forward-slash normalized).
func HasIgnoredPrefix(rel string, prefixes []string) bool {
	rel = Normalize(rel)
	for _, prefix := range prefixes {
		prefix = strings.TrimSuffix(Normalize(prefix), "/")
		if prefix == "" {
			continue
		}
		if rel == prefix || strings.HasPrefix(rel, prefix+"/") {
			return true
		}
	}
	return false
}
