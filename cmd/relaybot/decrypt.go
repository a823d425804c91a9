package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"relaybot/internal/media"
	"relaybot/internal/provider"
)

type decryptOptions struct {
	url       string
	file      string
	mediaKey  string
	msgType   string
	mimeType  string
	out       string
	verifyMAC bool
	timeout   time.Duration
}

func decryptCmd() *cobra.Command {
	opts := decryptOptions{}
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Fetch and decrypt one WhatsApp media blob",
		Long: `Downloads (--url) or reads (--file) an encrypted media blob, decrypts it
with the base64 media key and writes the plaintext. The output extension is
inferred from --mime or the decrypted bytes when --out is a directory.`,
		Example: `  relaybot decrypt --url https://mmg.whatsapp.net/... --media-key BASE64 --mime "audio/ogg; codecs=opus"
  relaybot decrypt --file voice.enc --media-key BASE64 --type imageMessage --out photo.jpg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := runDecrypt(cmd, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "", "media URL to download")
	f.StringVar(&opts.file, "file", "", "local encrypted file")
	f.StringVar(&opts.mediaKey, "media-key", "", "base64 media key (required)")
	f.StringVar(&opts.msgType, "type", "audioMessage", "message type selecting the key label (audioMessage, imageMessage, videoMessage, documentMessage, ...)")
	f.StringVar(&opts.mimeType, "mime", "", "mime type used to pick the output extension")
	f.StringVarP(&opts.out, "out", "o", ".", "output file or directory")
	f.BoolVar(&opts.verifyMAC, "verify-mac", true, "reject blobs whose MAC does not match")
	f.DurationVar(&opts.timeout, "timeout", 60*time.Second, "download timeout")
	cmd.MarkFlagRequired("media-key")
	cmd.MarkFlagsMutuallyExclusive("url", "file")
	cmd.MarkFlagsOneRequired("url", "file")
	return cmd
}

func runDecrypt(cmd *cobra.Command, opts decryptOptions) (string, error) {
	label, ok := media.Label(opts.msgType)
	if !ok {
		return "", fmt.Errorf("unsupported message type %q", opts.msgType)
	}

	src := opts.file
	if opts.url != "" {
		fetcher := media.NewFetcher(media.FetcherConfig{
			Client:  provider.SharedHTTPClient(opts.timeout),
			TempDir: os.TempDir(),
			Timeout: opts.timeout,
			Logger:  logger,
		})
		downloaded, err := fetcher.Fetch(cmd.Context(), opts.url)
		if err != nil {
			return "", err
		}
		defer os.Remove(downloaded)
		src = downloaded
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("read encrypted media: %w", err)
	}
	plain, err := media.Decrypt(opts.mediaKey, []byte(label), data, opts.verifyMAC)
	if err != nil {
		return "", err
	}

	out := opts.out
	info, err := os.Stat(out)
	switch {
	case err == nil && info.IsDir():
		out = filepath.Join(out, uuid.NewString()+media.Extension(opts.mimeType, plain))
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return "", err
	}
	if err := os.WriteFile(out, plain, 0o600); err != nil {
		return "", fmt.Errorf("write plaintext: %w", err)
	}
	logger.Info("media decrypted", "type", opts.msgType, "bytes", len(plain), "out", out)
	return out, nil
}
