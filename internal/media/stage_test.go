package media

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"

	"relaybot/internal/domain"
)

func newTestStager(t *testing.T, verify bool) (*Stager, string) {
	t.Helper()
	dir := t.TempDir()
	f := NewFetcher(FetcherConfig{TempDir: dir, MaxBytes: 1 << 20, Timeout: 5 * time.Second})
	return NewStager(StagerConfig{Fetcher: f, TempDir: dir, VerifyMAC: verify}), dir
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "staged files left behind")
}

func TestStager_UseDeliversPlaintextAndCleansUp(t *testing.T) {
	key := randomKey(t)
	plaintext := []byte("OggS fake voice note payload")
	blob := encrypt(t, key, []byte(whatsmeow.MediaAudio), plaintext)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(blob)
	}))
	defer srv.Close()

	s, dir := newTestStager(t, true)
	desc := domain.EncryptedMedia{
		URL:         srv.URL + "/media",
		MediaKey:    base64.StdEncoding.EncodeToString(key),
		MimeType:    "audio/ogg; codecs=opus",
		MessageType: "audioMessage",
	}

	var seenPath string
	err := s.Use(context.Background(), desc, func(m *domain.DecryptedMedia) error {
		seenPath = m.Path
		require.Equal(t, ".ogg", m.Extension)
		require.Equal(t, filepath.Ext(m.Path), ".ogg")
		got, err := os.ReadFile(m.Path)
		require.NoError(t, err)
		require.Equal(t, plaintext, got)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, seenPath)
	requireEmptyDir(t, dir)
}

func TestStager_ConsumerErrorStillCleansUp(t *testing.T) {
	key := randomKey(t)
	blob := encrypt(t, key, []byte(whatsmeow.MediaAudio), []byte("payload"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(blob)
	}))
	defer srv.Close()

	s, dir := newTestStager(t, true)
	boom := errors.New("transcriber down")
	err := s.Use(context.Background(), domain.EncryptedMedia{
		URL: srv.URL, MediaKey: base64.StdEncoding.EncodeToString(key),
		MimeType: "audio/ogg", MessageType: "audioMessage",
	}, func(*domain.DecryptedMedia) error { return boom })

	require.ErrorIs(t, err, boom)
	requireEmptyDir(t, dir)
}

func TestStager_DecryptFailureCleansUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 42))
	}))
	defer srv.Close()

	s, dir := newTestStager(t, true)
	called := false
	err := s.Use(context.Background(), domain.EncryptedMedia{
		URL: srv.URL, MediaKey: base64.StdEncoding.EncodeToString(randomKey(t)),
		MimeType: "audio/ogg", MessageType: "audioMessage",
	}, func(*domain.DecryptedMedia) error { called = true; return nil })

	var decErr *domain.DecryptionError
	require.ErrorAs(t, err, &decErr)
	require.False(t, called)
	requireEmptyDir(t, dir)
}

func TestStager_UnknownMessageType(t *testing.T) {
	s, _ := newTestStager(t, true)
	err := s.Use(context.Background(), domain.EncryptedMedia{MessageType: "reactionMessage"},
		func(*domain.DecryptedMedia) error { return nil })
	require.Error(t, err)
}

func TestFetcher_Non2xxIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(FetcherConfig{TempDir: dir})
	_, err := f.Fetch(context.Background(), srv.URL)

	var fetchErr *domain.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, http.StatusGone, fetchErr.StatusCode)
	requireEmptyDir(t, dir)
}

func TestFetcher_BodyOverLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(FetcherConfig{TempDir: dir, MaxBytes: 1024})
	_, err := f.Fetch(context.Background(), srv.URL)

	var fetchErr *domain.FetchError
	require.ErrorAs(t, err, &fetchErr)
	requireEmptyDir(t, dir)
}

func TestFetcher_Deadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewFetcher(FetcherConfig{TempDir: t.TempDir(), Timeout: 50 * time.Millisecond})
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"audio/ogg; codecs=opus": ".ogg",
		"audio/mpeg":             ".mp3",
		"audio/mp4":              ".m4a",
		"AUDIO/AMR":              ".amr",
		"image/jpeg":             ".jpg",
		"":                       ".bin",
	}
	for mimeType, want := range cases {
		require.Equal(t, want, Extension(mimeType, nil), mimeType)
	}
}

func TestExtension_SniffsPlaintext(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	require.Equal(t, ".png", Extension("application/unknown-thing", png))
}
