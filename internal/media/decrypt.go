// Package media fetches, decrypts and stages end-to-end encrypted chat media.
package media

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"go.mau.fi/whatsmeow"
	"golang.org/x/crypto/hkdf"

	"relaybot/internal/domain"
)

const (
	expandedKeyLen = 112
	macLen         = 10
)

// labels maps a payload tag to the HKDF context label of its media class.
var labels = map[string]whatsmeow.MediaType{
	"audioMessage":    whatsmeow.MediaAudio,
	"pttMessage":      whatsmeow.MediaAudio,
	"imageMessage":    whatsmeow.MediaImage,
	"stickerMessage":  whatsmeow.MediaImage,
	"videoMessage":    whatsmeow.MediaVideo,
	"documentMessage": whatsmeow.MediaDocument,
}

// Label returns the HKDF context label for a message type tag.
func Label(messageType string) (whatsmeow.MediaType, bool) {
	l, ok := labels[messageType]
	return l, ok
}

// mediaKeys is the expanded key material of one media key.
type mediaKeys struct {
	iv        []byte
	cipherKey []byte
	macKey    []byte
}

func expandKey(mediaKey []byte, info []byte) (*mediaKeys, error) {
	expanded := make([]byte, expandedKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, mediaKey, nil, info), expanded); err != nil {
		return nil, err
	}
	return &mediaKeys{
		iv:        expanded[:16],
		cipherKey: expanded[16:48],
		macKey:    expanded[48:80],
	}, nil
}

// Decrypt recovers the plaintext of an encrypted media blob. data is the
// downloaded payload including its trailing 10-byte MAC. When verifyMAC is
// false the MAC is stripped without being checked.
func Decrypt(mediaKeyB64 string, info []byte, data []byte, verifyMAC bool) ([]byte, error) {
	mediaKey, err := base64.StdEncoding.DecodeString(mediaKeyB64)
	if err != nil {
		return nil, &domain.DecryptionError{Reason: "malformed media key", Err: err}
	}
	if len(mediaKey) == 0 {
		return nil, &domain.DecryptionError{Reason: "empty media key"}
	}
	if len(data) < macLen+aes.BlockSize {
		return nil, &domain.DecryptionError{Reason: fmt.Sprintf("payload too short (%d bytes)", len(data))}
	}

	ciphertext, mac := data[:len(data)-macLen], data[len(data)-macLen:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, &domain.DecryptionError{Reason: fmt.Sprintf("ciphertext length %d is not block aligned", len(ciphertext))}
	}

	keys, err := expandKey(mediaKey, info)
	if err != nil {
		return nil, &domain.DecryptionError{Reason: "expand key", Err: err}
	}

	if verifyMAC {
		h := hmac.New(sha256.New, keys.macKey)
		h.Write(keys.iv)
		h.Write(ciphertext)
		if !hmac.Equal(h.Sum(nil)[:macLen], mac) {
			return nil, &domain.DecryptionError{Reason: "mac mismatch"}
		}
	}

	block, err := aes.NewCipher(keys.cipherKey)
	if err != nil {
		return nil, &domain.DecryptionError{Reason: "init cipher", Err: err}
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, keys.iv).CryptBlocks(plaintext, ciphertext)

	return unpad(plaintext)
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n < 1 || n > aes.BlockSize || n > len(b) {
		return nil, &domain.DecryptionError{Reason: fmt.Sprintf("padding length %d out of range", n)}
	}
	return b[:len(b)-n], nil
}
