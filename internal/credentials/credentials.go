// Package credentials stores session tokens at rest, keyed by server
// identity. Tokens are AES-256-GCM encrypted with a key derived from a
// generated secret file, so a copied credentials file is useless without the
// matching secret.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"
)

// Store is the credential storage surface the agent depends on. The file
// implementation below is the default; tests substitute an in-memory double.
type Store interface {
	// Get returns the stored token for the server, or ErrNotFound.
	Get(serverID string) (string, error)

	// Save stores the token for the server.
	Save(serverID, token string) error

	// Delete removes the stored token. Deleting an absent entry is a no-op.
	Delete(serverID string) error
}

// ErrNotFound is returned when no credential is stored for a server.
var ErrNotFound = fmt.Errorf("credential not found")

const (
	secretFileName      = ".credentials.key"
	credentialsFileName = "credentials.enc"
	pbkdf2Iterations    = 10000
)

var kdfSalt = []byte("zabbar-credentials-v1")

// FileStore keeps encrypted tokens in a single JSON file under the data
// directory.
type FileStore struct {
	mu       sync.Mutex
	filePath string
	key      []byte
}

// NewFileStore opens (or initializes) the credential store in dataDir.
func NewFileStore(dataDir string) (*FileStore, error) {
	secret, err := getOrCreateSecret(filepath.Join(dataDir, secretFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to get credential secret: %w", err)
	}

	return &FileStore{
		filePath: filepath.Join(dataDir, credentialsFileName),
		key:      pbkdf2.Key(secret, kdfSalt, pbkdf2Iterations, 32, sha256.New),
	}, nil
}

// getOrCreateSecret reads the secret file or generates a new one.
func getOrCreateSecret(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		secret := make([]byte, 32)
		n, err := base64.StdEncoding.Decode(secret, data)
		if err == nil && n == 32 {
			return secret, nil
		}
		log.Warn().Str("path", path).Msg("Credential secret unreadable, generating a new one")
	}

	secret := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(secret)
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return nil, fmt.Errorf("failed to save secret: %w", err)
	}

	log.Info().Msg("Generated new credential secret")
	return secret, nil
}

// Get returns the stored token for the server.
func (s *FileStore) Get(serverID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return "", err
	}
	ciphertext, ok := entries[serverID]
	if !ok {
		return "", ErrNotFound
	}
	return s.decrypt(ciphertext)
}

// Save stores the token for the server.
func (s *FileStore) Save(serverID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	ciphertext, err := s.encrypt(token)
	if err != nil {
		return err
	}
	entries[serverID] = ciphertext
	return s.save(entries)
}

// Delete removes the stored token for the server.
func (s *FileStore) Delete(serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := entries[serverID]; !ok {
		return nil
	}
	delete(entries, serverID)
	return s.save(entries)
}

func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}

	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt credentials file means re-login, not a stuck agent.
		log.Warn().Str("path", s.filePath).Msg("Credentials file corrupt, starting empty")
		return map[string]string{}, nil
	}
	return entries, nil
}

func (s *FileStore) save(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *FileStore) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *FileStore) decrypt(encoded string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
