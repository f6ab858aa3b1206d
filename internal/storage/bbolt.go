package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	ConfigBucket      = []byte("config")      // KDF params, wrapped data key, timestamps
	CredentialsBucket = []byte("credentials") // Encrypted credential records
	NotesBucket       = []byte("notes")       // Encrypted note records
	SessionsBucket    = []byte("sessions")    // Session records keyed by token hash
)

// Config keys
var (
	ConfigVersion    = []byte("version")
	ConfigCreated    = []byte("created")
	ConfigModified   = []byte("modified")
	ConfigSalt       = []byte("salt")
	ConfigIters      = []byte("iterations")
	ConfigWrappedKey = []byte("wrapped_key")
	ConfigFailures   = []byte("failed_attempts")
	ConfigLockedTill = []byte("locked_until")
)

const (
	FormatVersion = "1"
	FilePerm      = 0600
	openTimeout   = time.Second
)

var (
	ErrNotFound       = errors.New("key not found")
	ErrBucketNotFound = errors.New("bucket not found")
)

// Storage provides BBolt-based storage for a vault file
type Storage struct {
	db *bolt.DB
}

// Open opens or creates a vault database
func Open(path string) (*Storage, error) {
	db, err := bolt.Open(path, FilePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Storage{db: db}, nil
}

// OpenReadOnly opens an existing vault database without write access.
// It fails if the file does not exist or is not a bbolt database.
func OpenReadOnly(path string) (*Storage, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, FilePerm, &bolt.Options{Timeout: openTimeout, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// Path returns the file backing the database
func (s *Storage) Path() string {
	return s.db.Path()
}

// Initialize creates the bucket structure for a new vault
func (s *Storage) Initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{ConfigBucket, CredentialsBucket, NotesBucket, SessionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		config := tx.Bucket(ConfigBucket)
		if err := config.Put(ConfigVersion, []byte(FormatVersion)); err != nil {
			return err
		}

		created, _ := time.Now().MarshalBinary()
		if err := config.Put(ConfigCreated, created); err != nil {
			return err
		}
		return config.Put(ConfigModified, created)
	})
}

// IsInitialized checks if the database holds a complete vault header:
// version, KDF salt and iterations, and a wrapped data key.
func (s *Storage) IsInitialized() (bool, error) {
	var initialized bool
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return nil
		}
		initialized = config.Get(ConfigVersion) != nil &&
			config.Get(ConfigSalt) != nil &&
			len(config.Get(ConfigIters)) == 4 &&
			config.Get(ConfigWrappedKey) != nil
		return nil
	})
	return initialized, err
}

// SetSalt stores the KDF salt
func (s *Storage) SetSalt(salt []byte) error {
	return s.putConfig(ConfigSalt, salt)
}

// GetSalt retrieves the KDF salt
func (s *Storage) GetSalt() ([]byte, error) {
	return s.getConfig(ConfigSalt)
}

// SetIterations stores the KDF iterations
func (s *Storage) SetIterations(iterations uint32) error {
	iters := make([]byte, 4)
	binary.BigEndian.PutUint32(iters, iterations)
	return s.putConfig(ConfigIters, iters)
}

// GetIterations retrieves the KDF iterations
func (s *Storage) GetIterations() (uint32, error) {
	iters, err := s.getConfig(ConfigIters)
	if err != nil {
		return 0, err
	}
	if len(iters) != 4 {
		return 0, fmt.Errorf("iterations: %w", ErrNotFound)
	}
	return binary.BigEndian.Uint32(iters), nil
}

// SetWrappedKey stores the data key encrypted under the password key
func (s *Storage) SetWrappedKey(wrapped []byte) error {
	return s.putConfig(ConfigWrappedKey, wrapped)
}

// GetWrappedKey retrieves the wrapped data key
func (s *Storage) GetWrappedKey() ([]byte, error) {
	return s.getConfig(ConfigWrappedKey)
}

// UpdateModified updates the last modified timestamp
func (s *Storage) UpdateModified() error {
	modified, _ := time.Now().MarshalBinary()
	return s.putConfig(ConfigModified, modified)
}

// GetModified retrieves the last modified timestamp
func (s *Storage) GetModified() (time.Time, error) {
	var modified time.Time
	data, err := s.getConfig(ConfigModified)
	if err != nil {
		return modified, err
	}
	err = modified.UnmarshalBinary(data)
	return modified, err
}

// Attempts is the failed password attempt record of a vault file.
type Attempts struct {
	Failures    int
	LockedUntil time.Time
}

// GetAttempts returns the attempt record. A vault without one yields the
// zero Attempts.
func (s *Storage) GetAttempts() (Attempts, error) {
	var a Attempts
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("%s: %w", ConfigBucket, ErrBucketNotFound)
		}
		if n := config.Get(ConfigFailures); len(n) == 4 {
			a.Failures = int(binary.BigEndian.Uint32(n))
		}
		if until := config.Get(ConfigLockedTill); until != nil {
			if err := a.LockedUntil.UnmarshalBinary(until); err != nil {
				return fmt.Errorf("%s: %w", ConfigLockedTill, err)
			}
		}
		return nil
	})
	return a, err
}

// SetAttempts replaces the attempt record.
func (s *Storage) SetAttempts(a Attempts) error {
	n := make([]byte, 4)
	binary.BigEndian.PutUint32(n, uint32(a.Failures))

	var until []byte
	if !a.LockedUntil.IsZero() {
		var err error
		if until, err = a.LockedUntil.MarshalBinary(); err != nil {
			return err
		}
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("%s: %w", ConfigBucket, ErrBucketNotFound)
		}
		if err := config.Put(ConfigFailures, n); err != nil {
			return err
		}
		if until == nil {
			return config.Delete(ConfigLockedTill)
		}
		return config.Put(ConfigLockedTill, until)
	})
}

// ClearAttempts forgets all failed attempts.
func (s *Storage) ClearAttempts() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("%s: %w", ConfigBucket, ErrBucketNotFound)
		}
		if err := config.Delete(ConfigFailures); err != nil {
			return err
		}
		return config.Delete(ConfigLockedTill)
	})
}

func (s *Storage) putConfig(key, value []byte) error {
	return s.Put(ConfigBucket, key, value)
}

func (s *Storage) getConfig(key []byte) ([]byte, error) {
	value, err := s.Get(ConfigBucket, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return value, nil
}

// Put stores value under key in bucket
func (s *Storage) Put(bucket, key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("%s: %w", bucket, ErrBucketNotFound)
		}
		return b.Put(key, value)
	})
}

// Get retrieves the value under key in bucket
func (s *Storage) Get(bucket, key []byte) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("%s: %w", bucket, ErrBucketNotFound)
		}
		data = b.Get(key)
		if data == nil {
			return ErrNotFound
		}
		// Make a copy since the slice is only valid during the transaction
		data = append([]byte(nil), data...)
		return nil
	})
	return data, err
}

// Delete removes key from bucket. Deleting a missing key is not an error.
func (s *Storage) Delete(bucket, key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("%s: %w", bucket, ErrBucketNotFound)
		}
		return b.Delete(key)
	})
}

// ForEach calls fn for every key/value pair in bucket. The slices passed to
// fn are copies and may be retained.
func (s *Storage) ForEach(bucket []byte, fn func(k, v []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("%s: %w", bucket, ErrBucketNotFound)
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(append([]byte(nil), k...), append([]byte(nil), v...))
		})
	})
}

// Compact creates a compacted copy of the database, removing unused space.
// This is useful after deleting records to reclaim disk space.
func (s *Storage) Compact() error {
	srcPath := s.db.Path()
	tmpPath := srcPath + ".compact"

	dst, err := bolt.Open(tmpPath, FilePerm, nil)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	err = s.db.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return srcBucket.ForEach(func(k, v []byte) error {
					return dstBucket.Put(k, v)
				})
			})
		})
	})

	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close source database: %w", err)
	}

	// Atomic replace
	backupPath := srcPath + ".backup"
	if err := os.Rename(srcPath, backupPath); err != nil {
		return fmt.Errorf("failed to backup original: %w", err)
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Rename(backupPath, srcPath) // rollback
		return fmt.Errorf("failed to replace database: %w", err)
	}
	os.Remove(backupPath)

	s.db, err = bolt.Open(srcPath, FilePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}

	return nil
}
