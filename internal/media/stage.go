package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"relaybot/internal/domain"
)

// audioExtensions covers the voice-note MIME types seen from the bridge.
// Anything else falls back to the mimetype registry.
var audioExtensions = map[string]string{
	"audio/ogg":   ".ogg",
	"audio/opus":  ".ogg",
	"audio/mpeg":  ".mp3",
	"audio/mp4":   ".m4a",
	"audio/x-m4a": ".m4a",
	"audio/aac":   ".aac",
	"audio/amr":   ".amr",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
}

// Extension infers a file extension for decrypted media, first from the
// declared MIME type and then by sniffing the plaintext.
func Extension(mimeType string, plaintext []byte) string {
	base, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		base = strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	}
	if ext, ok := audioExtensions[base]; ok {
		return ext
	}
	if m := mimetype.Lookup(base); m != nil && m.Extension() != "" {
		return normalizeExt(m.Extension())
	}
	if len(plaintext) > 0 {
		if ext := mimetype.Detect(plaintext).Extension(); ext != "" {
			return normalizeExt(ext)
		}
	}
	return ".bin"
}

func normalizeExt(ext string) string {
	if ext == ".oga" {
		return ".ogg"
	}
	return ext
}

// StagerConfig configures the scoped fetch, decrypt and stage pipeline.
type StagerConfig struct {
	Fetcher   *Fetcher
	TempDir   string
	VerifyMAC bool
	Logger    *slog.Logger
}

// Stager owns decrypted media files for the duration of one consumer call.
type Stager struct {
	fetcher   *Fetcher
	tempDir   string
	verifyMAC bool
	logger    *slog.Logger
}

func NewStager(cfg StagerConfig) *Stager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Stager{
		fetcher:   cfg.Fetcher,
		tempDir:   cfg.TempDir,
		verifyMAC: cfg.VerifyMAC,
		logger:    cfg.Logger,
	}
}

// Use fetches and decrypts desc, stages the plaintext with an inferred
// extension and calls fn with it. Both the downloaded ciphertext and the
// staged file are removed before Use returns, whatever the outcome.
func (s *Stager) Use(ctx context.Context, desc domain.EncryptedMedia, fn func(*domain.DecryptedMedia) error) error {
	label, ok := Label(desc.MessageType)
	if !ok {
		return &domain.DecryptionError{Reason: fmt.Sprintf("unknown media type %q", desc.MessageType)}
	}

	encPath, err := s.fetcher.Fetch(ctx, desc.URL)
	if err != nil {
		return err
	}
	defer s.remove(encPath)

	data, err := os.ReadFile(encPath)
	if err != nil {
		return fmt.Errorf("read fetched media: %w", err)
	}
	plaintext, err := Decrypt(desc.MediaKey, []byte(label), data, s.verifyMAC)
	if err != nil {
		return err
	}

	staged, err := s.stage(desc.MimeType, plaintext)
	if err != nil {
		return err
	}
	defer s.remove(staged.Path)

	return fn(staged)
}

func (s *Stager) stage(mimeType string, plaintext []byte) (*domain.DecryptedMedia, error) {
	if s.tempDir != "" {
		if err := os.MkdirAll(s.tempDir, 0o700); err != nil {
			return nil, fmt.Errorf("create temp dir: %w", err)
		}
	}
	dir := s.tempDir
	if dir == "" {
		dir = os.TempDir()
	}
	ext := Extension(mimeType, plaintext)
	path := filepath.Join(dir, uuid.NewString()+ext)
	if err := os.WriteFile(path, plaintext, 0o600); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("stage media: %w", err)
	}
	return &domain.DecryptedMedia{
		Path:      path,
		Extension: ext,
		MimeType:  mimeType,
		Size:      int64(len(plaintext)),
	}, nil
}

func (s *Stager) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("remove staged media", "path", path, "err", err)
	}
}
