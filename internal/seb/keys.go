package seb

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// BrowserExamKeyLength is the exact length of a normalized browser exam key.
const BrowserExamKeyLength = 64

// Browser-exam-key validation errors. The messages are shown verbatim as
// field-level form errors, so they double as the user-facing text.
var (
	ErrInvalidBrowserExamKey   = errors.New("A key should be a 64-character hex string.")
	ErrDuplicateBrowserExamKey = errors.New("The keys must all be different.")
)

// ConfigKey derives the config key from a canonical configuration document.
// The key changes whenever any byte of the document changes.
func ConfigKey(document []byte) string {
	sum := sha256.Sum256(document)
	return hex.EncodeToString(sum[:])
}

// URLKeyHash computes the URL-bound proof hash for a secret (a config key or
// a browser exam key): SHA-256 over the exact request URL concatenated with
// the secret. The client sends this hash instead of the secret itself, which
// binds the proof to one URL without ever transmitting the secret.
func URLKeyHash(url, secret string) string {
	sum := sha256.Sum256([]byte(url + secret))
	return hex.EncodeToString(sum[:])
}

// HashEqual compares two hex digest strings in constant time,
// case-insensitively. Unequal lengths compare false.
func HashEqual(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if len(la) != len(lb) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(la), []byte(lb)) == 1
}

// HashQuitPassword one-way hashes a plaintext SEB quit password for the
// hashedQuitPassword configuration key. The plaintext is never stored.
func HashQuitPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// NormalizeBrowserExamKeys parses a raw newline/comma/space-delimited list of
// browser exam keys into ordered, lowercased, validated tokens. Malformed or
// duplicate entries are errors, never silently dropped.
func NormalizeBrowserExamKeys(raw string) ([]string, error) {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case '\n', '\r', ',', ' ', '\t':
			return true
		}
		return false
	})
	if len(tokens) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		key := strings.ToLower(tok)
		if len(key) != BrowserExamKeyLength || !isHex(key) {
			return nil, ErrInvalidBrowserExamKey
		}
		if _, dup := seen[key]; dup {
			return nil, ErrDuplicateBrowserExamKey
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
