package service

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stemsi/sebgate/internal/config"
	"github.com/stemsi/sebgate/internal/seb"
)

// Sentinel errors for uploaded SEB configurations.
var (
	ErrUploadNotFound      = errors.New("no uploaded SEB configuration for this quiz")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
)

// SebConfigStore keeps uploaded .seb configuration documents on local
// storage, one per quiz. The access manager only asks whether a document
// exists; the settings service loads the bytes at compile time.
type SebConfigStore struct {
	cfg *config.Config
}

// NewSebConfigStore creates a new SebConfigStore.
func NewSebConfigStore(cfg *config.Config) *SebConfigStore {
	return &SebConfigStore{cfg: cfg}
}

func (s *SebConfigStore) path(quizID int64) string {
	return filepath.Join(s.cfg.UploadDir, "seb", strconv.FormatInt(quizID, 10)+".seb")
}

// Save validates and stores an uploaded .seb document for a quiz, replacing
// any previous upload. The document must parse as a property list before it
// is accepted.
func (s *SebConfigStore) Save(file multipart.File, header *multipart.FileHeader, quizID int64) error {
	if !strings.EqualFold(filepath.Ext(header.Filename), ".seb") {
		return fmt.Errorf("%w: %s (expected a .seb file)", ErrUnsupportedFileType, header.Filename)
	}
	if header.Size > s.cfg.MaxUploadBytes {
		return fmt.Errorf("%w: %d bytes (max: %d)", ErrFileTooLarge, header.Size, s.cfg.MaxUploadBytes)
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return fmt.Errorf("%w: max %d bytes", ErrFileTooLarge, s.cfg.MaxUploadBytes)
	}

	// Reject documents the compiler cannot parse, so UPLOADED_CONFIG mode
	// never fails later against a stored-but-broken file.
	if _, err := seb.UnmarshalDocument(data); err != nil {
		return fmt.Errorf("%w: not a valid SEB configuration", ErrUnsupportedFileType)
	}

	dir := filepath.Dir(s.path(quizID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	// Write-then-rename so a concurrent reader never sees a partial file.
	tmp, err := os.CreateTemp(dir, "upload-*.seb")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(quizID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store file: %w", err)
	}
	return nil
}

// Load returns the stored document bytes for a quiz. Absence is reported as
// ErrUploadNotFound, distinguishable from I/O failures.
func (s *SebConfigStore) Load(quizID int64) ([]byte, error) {
	data, err := os.ReadFile(s.path(quizID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrUploadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read uploaded config: %w", err)
	}
	return data, nil
}

// HasUploadedConfig reports whether a document is stored for the quiz.
// Satisfies seb.UploadChecker.
func (s *SebConfigStore) HasUploadedConfig(quizID int64) bool {
	_, err := os.Stat(s.path(quizID))
	return err == nil
}

// Delete removes the stored document. Deleting an absent document is not an
// error.
func (s *SebConfigStore) Delete(quizID int64) error {
	err := os.Remove(s.path(quizID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete uploaded config: %w", err)
	}
	return nil
}
