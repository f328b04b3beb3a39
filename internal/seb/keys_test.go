package seb

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func TestConfigKeyMatchesSHA256(t *testing.T) {
	doc := []byte("canonical document bytes")
	sum := sha256.Sum256(doc)
	if got, want := ConfigKey(doc), hex.EncodeToString(sum[:]); got != want {
		t.Errorf("ConfigKey = %s, want %s", got, want)
	}
}

func TestURLKeyHashBindsURL(t *testing.T) {
	const secret = "secret-key"
	h1 := URLKeyHash("https://example.com/x?id=1", secret)
	h2 := URLKeyHash("https://example.com/y?id=1", secret)
	if h1 == h2 {
		t.Error("hashes for different URLs should differ")
	}

	sum := sha256.Sum256([]byte("https://example.com/x?id=1" + secret))
	if want := hex.EncodeToString(sum[:]); h1 != want {
		t.Errorf("URLKeyHash = %s, want %s", h1, want)
	}
}

func TestHashEqual(t *testing.T) {
	h := URLKeyHash("https://example.com/", "k")
	if !HashEqual(h, strings.ToUpper(h)) {
		t.Error("comparison should be case-insensitive")
	}
	if HashEqual(h, h[:32]) {
		t.Error("different lengths should not compare equal")
	}
	if HashEqual(h, strings.Repeat("0", len(h))) {
		t.Error("different digests should not compare equal")
	}
}

func TestHashQuitPassword(t *testing.T) {
	sum := sha256.Sum256([]byte("test"))
	if got, want := HashQuitPassword("test"), hex.EncodeToString(sum[:]); got != want {
		t.Errorf("HashQuitPassword = %s, want %s", got, want)
	}
}

func TestNormalizeBrowserExamKeys(t *testing.T) {
	keyA := strings.Repeat("a", 64)
	keyB := strings.Repeat("b", 64)

	t.Run("empty input", func(t *testing.T) {
		keys, err := NormalizeBrowserExamKeys("   \n  ")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if keys != nil {
			t.Errorf("expected nil keys, got %v", keys)
		}
	})

	t.Run("mixed delimiters and case", func(t *testing.T) {
		raw := strings.ToUpper(keyA) + ",\n " + keyB
		keys, err := NormalizeBrowserExamKeys(raw)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(keys) != 2 || keys[0] != keyA || keys[1] != keyB {
			t.Errorf("unexpected keys: %v", keys)
		}
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := NormalizeBrowserExamKeys("fdsf434r")
		if !errors.Is(err, ErrInvalidBrowserExamKey) {
			t.Errorf("expected ErrInvalidBrowserExamKey, got %v", err)
		}
		if err == nil || err.Error() != "A key should be a 64-character hex string." {
			t.Errorf("unexpected message: %v", err)
		}
	})

	t.Run("non-hex characters", func(t *testing.T) {
		_, err := NormalizeBrowserExamKeys(strings.Repeat("g", 64))
		if !errors.Is(err, ErrInvalidBrowserExamKey) {
			t.Errorf("expected ErrInvalidBrowserExamKey, got %v", err)
		}
	})

	t.Run("duplicates", func(t *testing.T) {
		_, err := NormalizeBrowserExamKeys(keyA + "\n" + strings.ToUpper(keyA))
		if !errors.Is(err, ErrDuplicateBrowserExamKey) {
			t.Errorf("expected ErrDuplicateBrowserExamKey, got %v", err)
		}
		if err == nil || err.Error() != "The keys must all be different." {
			t.Errorf("unexpected message: %v", err)
		}
	})
}
