// Package storage persists FaceLogin's on-disk state: the per-user face
// sample galleries and the single serialized recognition model. The model
// artifact may be sealed at rest with NaCl secretbox.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/MrCodeEU/facelogin/pkg/logging"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
)

// ErrArtifactNotFound is returned when no model artifact has been written yet.
var ErrArtifactNotFound = errors.New("model artifact not found")

// ErrArtifactEmpty is returned for a zero-byte artifact.
var ErrArtifactEmpty = errors.New("model artifact is empty")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// ArtifactStore reads and overwrites the model artifact at one fixed path.
type ArtifactStore struct {
	path              string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// NewArtifactStore creates a store for the artifact at path. The parent
// directory is created on the first write.
func NewArtifactStore(path string, encryptionEnabled bool) (*ArtifactStore, error) {
	s := &ArtifactStore{
		path:              path,
		encryptionEnabled: encryptionEnabled,
	}

	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		s.encryptionKey = key
	}

	return s, nil
}

// deriveKey derives an encryption key from machine-specific information.
// This ties the sealed model to this specific machine and user.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("facelogin-v1-salt")

	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])

	return key, nil
}

// Path returns the artifact location.
func (s *ArtifactStore) Path() string {
	return s.path
}

// Read returns the decoded artifact bytes.
func (s *ArtifactStore) Read() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrArtifactEmpty
	}

	if s.encryptionEnabled {
		data, err = s.decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt model artifact: %w", err)
		}
	}
	return data, nil
}

// Write replaces the artifact. The new content is written to a temporary
// file in the same directory and renamed over the old one, so readers never
// observe a partially written model.
func (s *ArtifactStore) Write(data []byte) error {
	var err error
	if s.encryptionEnabled {
		data, err = s.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt model artifact: %w", err)
		}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write model artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write model artifact: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("failed to set artifact permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace model artifact: %w", err)
	}

	logging.Component("storage").Debugf("Wrote model artifact %s (%d bytes)", s.path, len(data))
	return nil
}

// encrypt encrypts data using NaCl secretbox.
func (s *ArtifactStore) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (s *ArtifactStore) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &s.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}

	return plaintext, nil
}
