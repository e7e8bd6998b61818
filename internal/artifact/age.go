package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"flightdeck/internal/deck"
)

// EncryptedSuffix is appended to keys written through an EncryptingSink.
const EncryptedSuffix = ".age"

// EncryptingSink age-encrypts every artifact before handing it to the inner sink.
type EncryptingSink struct {
	inner     deck.ArtifactSink
	recipient age.Recipient
}

var _ deck.ArtifactSink = (*EncryptingSink)(nil)

// NewEncryptingSink wraps inner, encrypting to the X25519 recipient stored at recipientPath.
func NewEncryptingSink(inner deck.ArtifactSink, recipientPath string) (*EncryptingSink, error) {
	recipient, err := loadRecipient(recipientPath)
	if err != nil {
		return nil, fmt.Errorf("loading public key: %w", err)
	}
	return &EncryptingSink{inner: inner, recipient: recipient}, nil
}

func (e *EncryptingSink) Put(ctx context.Context, key string, r io.Reader, _ int64) error {
	var buf bytes.Buffer
	encWriter, err := age.Encrypt(&buf, e.recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting artifact: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return e.inner.Put(ctx, key+EncryptedSuffix, &buf, int64(buf.Len()))
}

func (e *EncryptingSink) ValidateSetup() error {
	return e.inner.ValidateSetup()
}

// GenerateKeyPair writes a new X25519 identity to identityPath (mode 0600)
// and its recipient to recipientPath. Existing files are not overwritten.
func GenerateKeyPair(recipientPath, identityPath string) (string, error) {
	for _, p := range []string{recipientPath, identityPath} {
		if _, err := os.Stat(p); err == nil {
			return "", fmt.Errorf("key file already exists at %s", p)
		}
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generating key pair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(identityPath), 0700); err != nil {
		return "", fmt.Errorf("creating private key directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(recipientPath), 0700); err != nil {
		return "", fmt.Errorf("creating public key directory: %w", err)
	}

	if err := os.WriteFile(identityPath, []byte(identity.String()+"\n"), 0600); err != nil {
		return "", fmt.Errorf("writing private key: %w", err)
	}
	recipient := identity.Recipient().String()
	if err := os.WriteFile(recipientPath, []byte(recipient+"\n"), 0644); err != nil {
		return "", fmt.Errorf("writing public key: %w", err)
	}
	return recipient, nil
}

// Decrypt reads age ciphertext from r and writes plaintext to w using the
// identity stored at identityPath.
func Decrypt(identityPath string, r io.Reader, w io.Writer) error {
	keyData, err := os.ReadFile(identityPath)
	if err != nil {
		return fmt.Errorf("reading private key file: %w", err)
	}
	identities, err := age.ParseIdentities(bytes.NewReader(keyData))
	if err != nil {
		return fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return fmt.Errorf("no identities found in private key")
	}

	decReader, err := age.Decrypt(r, identities...)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}
	if _, err := io.Copy(w, decReader); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}

func loadRecipient(path string) (age.Recipient, error) {
	pubData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(pubData))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients found in public key file")
	}
	return recipients[0], nil
}
