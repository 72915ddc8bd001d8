package bilibili

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/bilibili-xiayun/bililive-queue/internal/models"
)

const (
	credSalt    = "bililive-queue-cred-v1"
	credKeySize = 32
)

// ErrCredentialSealed means the file is sealed but no secret was
// configured to open it.
var ErrCredentialSealed = errors.New("credential file is sealed, CRED_SECRET required")

// Credential is a logged-in session: the account cookies plus the
// identity fetched at login time.
type Credential struct {
	Cookies  map[string]string `json:"cookies"`
	UserInfo *models.UserInfo  `json:"user_info,omitempty"`
}

// Valid reports whether the cookie set can authenticate requests.
func (c *Credential) Valid() bool {
	return c != nil && c.Cookies["SESSDATA"] != "" && c.Cookies["bili_jct"] != ""
}

// Buvid3 returns the device cookie the danmaku auth body wants.
func (c *Credential) Buvid3() string {
	if c == nil {
		return ""
	}
	return c.Cookies["buvid3"]
}

// UID returns the account UID, falling back to the DedeUserID cookie.
func (c *Credential) UID() int64 {
	if c == nil {
		return 0
	}
	if c.UserInfo != nil && c.UserInfo.UID != 0 {
		return c.UserInfo.UID
	}
	var uid int64
	fmt.Sscanf(c.Cookies["DedeUserID"], "%d", &uid)
	return uid
}

// CredentialStore persists the credential file. With a secret configured
// the file is sealed at rest; without one it is plain JSON, and Load
// auto-detects either form.
type CredentialStore struct {
	mu     sync.Mutex
	path   string
	secret string
	cached *Credential
}

// NewCredentialStore stores credentials at path, sealed when secret is
// non-empty.
func NewCredentialStore(path, secret string) *CredentialStore {
	return &CredentialStore{path: path, secret: secret}
}

// sealedFile wraps sealed credential bytes on disk.
type sealedFile struct {
	Sealed string `json:"sealed"`
}

// Load reads the stored credential. A missing file returns nil, nil.
func (s *CredentialStore) Load() (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return s.cached, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var wrapper sealedFile
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Sealed != "" {
		if s.secret == "" {
			return nil, ErrCredentialSealed
		}
		data, err = s.open(wrapper.Sealed)
		if err != nil {
			return nil, err
		}
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("parse credential file: %w", err)
	}
	s.cached = &cred
	return s.cached, nil
}

// Save writes the credential, sealed when a secret is configured.
func (s *CredentialStore) Save(cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return err
	}
	if s.secret != "" {
		sealed, err := s.seal(data)
		if err != nil {
			return err
		}
		data, err = json.MarshalIndent(sealedFile{Sealed: sealed}, "", "  ")
		if err != nil {
			return err
		}
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return err
	}
	s.cached = cred
	return nil
}

// Clear deletes the stored credential.
func (s *CredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cached = nil
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// deriveKey stretches the configured secret into the sealing key with
// HKDF-SHA256.
func (s *CredentialStore) deriveKey() ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(s.secret), []byte(credSalt), []byte("credential-store"))
	key := make([]byte, credKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// seal encrypts plaintext with ChaCha20-Poly1305; the nonce rides in
// front of the ciphertext.
func (s *CredentialStore) seal(plaintext []byte) (string, error) {
	key, err := s.deriveKey()
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// open reverses seal.
func (s *CredentialStore) open(encoded string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode sealed credential: %w", err)
	}
	key, err := s.deriveKey()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize() {
		return nil, fmt.Errorf("sealed credential too short")
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed credential: %w", err)
	}
	return plaintext, nil
}
