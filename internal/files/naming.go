package files

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// StorageKey returns a fresh key for an upload of filename: 32 random hex
// characters, an underscore and the sanitised name.
func StorageKey(filename string) string {
	prefix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + SanitizeFilename(filename)
}

// BaseName strips any client-supplied directories and control characters.
func BaseName(filename string) string {
	filename = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, filename)
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = path.Base(filename)
	if filename == "." || filename == "/" || filename == ".." {
		return ""
	}
	return strings.TrimSpace(filename)
}

// SanitizeFilename reduces filename to a safe ASCII object-key suffix.
func SanitizeFilename(filename string) string {
	name := BaseName(filename)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	return name
}

// extension returns the lower-cased text after the last dot, if any.
func extension(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}
