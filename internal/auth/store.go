package auth

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"fgcmatch/pkg/backend"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Store persists the session between daemon restarts.
type Store interface {
	// Load returns nil, nil when nothing is stored.
	Load() (*backend.Session, error)
	Save(s *backend.Session) error
	Clear() error
}

type MemoryStore struct {
	mu sync.Mutex
	s  *backend.Session
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load() (*backend.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s == nil {
		return nil, nil
	}
	cp := *m.s
	return &cp, nil
}

func (m *MemoryStore) Save(s *backend.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.s = &cp
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = nil
	return nil
}

var fileMagic = []byte("FGCS1")

const saltLen = 16

var ErrBadPassphrase = errors.New("session store: wrong passphrase or corrupt file")

// FileStore keeps the session in a file sealed with XChaCha20-Poly1305 under a
// key derived from a passphrase with argon2id.
// Layout: magic | salt | nonce | ciphertext.
type FileStore struct {
	path       string
	passphrase []byte
	mu         sync.Mutex
}

func NewFileStore(path, passphrase string) (*FileStore, error) {
	if passphrase == "" {
		return nil, errors.New("session store: passphrase required")
	}
	return &FileStore{path: path, passphrase: []byte(passphrase)}, nil
}

func (f *FileStore) key(salt []byte) []byte {
	return argon2.IDKey(f.passphrase, salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
}

func (f *FileStore) Load() (*backend.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	head := len(fileMagic) + saltLen + chacha20poly1305.NonceSizeX
	if len(data) < head || !bytes.Equal(data[:len(fileMagic)], fileMagic) {
		return nil, ErrBadPassphrase
	}
	salt := data[len(fileMagic) : len(fileMagic)+saltLen]
	nonce := data[len(fileMagic)+saltLen : head]
	aead, err := chacha20poly1305.NewX(f.key(salt))
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, data[head:], fileMagic)
	if err != nil {
		return nil, ErrBadPassphrase
	}
	var s backend.Session
	if err := json.Unmarshal(plain, &s); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &s, nil
}

func (f *FileStore) Save(s *backend.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	plain, err := json.Marshal(s)
	if err != nil {
		return err
	}
	salt := make([]byte, saltLen)
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	aead, err := chacha20poly1305.NewX(f.key(salt))
	if err != nil {
		return err
	}
	out := make([]byte, 0, len(fileMagic)+len(salt)+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, fileMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plain, fileMagic)

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
