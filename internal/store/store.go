package store

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Key names a persisted value. The set is fixed.
type Key string

const (
	KeySessionKey     Key = "sessionKey"
	KeyOrganizationID Key = "organizationId"
	KeyWindowPosition Key = "windowPosition"
	KeyUsageHistory   Key = "usageHistory"
)

const (
	bucketValues = "values"
	bucketMeta   = "meta"
	metaSalt     = "salt"
	metaCheck    = "check"
	checkValue   = "claude-usage"
	saltSize     = 16
)

var (
	// ErrWrongPassphrase is returned by Open when the store was sealed with a
	// different passphrase.
	ErrWrongPassphrase = errors.New("store passphrase does not match")
	// ErrCorrupt is returned when a sealed value cannot be opened.
	ErrCorrupt = errors.New("store value corrupt")
)

// Store is a small encrypted key-value file. Each value is JSON sealed with
// XChaCha20-Poly1305; the key name is bound as additional data.
type Store struct {
	db   *bbolt.DB
	aead cipher.AEAD
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for history pruning.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens or creates the store at path.
func Open(path, passphrase string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.init(passphrase); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(passphrase string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketValues)); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketValues, err)
		}
		meta, err := tx.CreateBucketIfNotExists([]byte(bucketMeta))
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketMeta, err)
		}

		salt := meta.Get([]byte(metaSalt))
		if salt == nil {
			salt = make([]byte, saltSize)
			if _, err := rand.Read(salt); err != nil {
				return fmt.Errorf("generate salt: %w", err)
			}
			if err := meta.Put([]byte(metaSalt), salt); err != nil {
				return fmt.Errorf("write salt: %w", err)
			}
		}

		key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return fmt.Errorf("init cipher: %w", err)
		}
		s.aead = aead

		if check := meta.Get([]byte(metaCheck)); check != nil {
			plain, err := s.open(metaCheck, check)
			if err != nil || string(plain) != checkValue {
				return ErrWrongPassphrase
			}
			return nil
		}
		sealed, err := s.seal(metaCheck, []byte(checkValue))
		if err != nil {
			return err
		}
		return meta.Put([]byte(metaCheck), sealed)
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) seal(name string, plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plain, []byte(name)), nil
}

func (s *Store) open(name string, sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, ErrCorrupt
	}
	plain, err := s.aead.Open(nil, sealed[:n], sealed[n:], []byte(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, name)
	}
	return plain, nil
}

func (s *Store) getTx(tx *bbolt.Tx, key Key, out any) (bool, error) {
	raw := tx.Bucket([]byte(bucketValues)).Get([]byte(key))
	if raw == nil {
		return false, nil
	}
	plain, err := s.open(string(key), raw)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) putTx(tx *bbolt.Tx, key Key, value any) error {
	plain, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	sealed, err := s.seal(string(key), plain)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(bucketValues)).Put([]byte(key), sealed)
}

// Get decodes the value stored under key into out and reports whether it
// was present.
func (s *Store) Get(key Key, out any) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		found, err = s.getTx(tx, key, out)
		return err
	})
	return found, err
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key Key, value any) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return s.putTx(tx, key, value)
	})
}

// Delete removes the given keys. Missing keys are ignored.
func (s *Store) Delete(keys ...Key) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketValues))
		for _, key := range keys {
			if err := b.Delete([]byte(key)); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
		}
		return nil
	})
}
