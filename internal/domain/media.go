package domain

// EncryptedMedia describes a media blob that still has to be fetched and
// decrypted. MessageType is the payload tag ("audioMessage", "imageMessage",
// ...) and selects the HKDF context label.
type EncryptedMedia struct {
	URL         string
	MediaKey    string // base64
	MimeType    string
	MessageType string
}

// DecryptedMedia is a staged plaintext media file on transient storage.
type DecryptedMedia struct {
	Path      string
	Extension string
	MimeType  string
	Size      int64
}
