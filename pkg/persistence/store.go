package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/duosync/duosync-go/pkg/sheet"
	"github.com/duosync/duosync-go/pkg/zone"
)

// SchemaVersion is the current on-disk format version.
const SchemaVersion = 1

var (
	bucketDevice = []byte("device")
	bucketSheet  = []byte("sheet")

	keySchema  = []byte("schema")
	keyID      = []byte("id")
	keyZone    = []byte("zone")
	keyActive  = []byte("active")
	keySavedAt = []byte("saved_at")
)

// ErrSchema is returned when the file was written by an unknown format
// version.
var ErrSchema = errors.New("unsupported state schema")

// DeviceState is a summary of the stored state.
type DeviceState struct {
	DeviceID string
	Zone     zone.Zone
	HasZone  bool
	Sheet    *sheet.Header
	SavedAt  time.Time
}

// Store is the device state database.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dev, err := tx.CreateBucketIfNotExists(bucketDevice)
		if err != nil {
			return fmt.Errorf("create device bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketSheet); err != nil {
			return fmt.Errorf("create sheet bucket: %w", err)
		}

		if v := dev.Get(keySchema); v != nil {
			if got := binary.BigEndian.Uint32(v); got != SchemaVersion {
				return fmt.Errorf("%w: %d", ErrSchema, got)
			}
			return nil
		}
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], SchemaVersion)
		return dev.Put(keySchema, buf[:])
	})
}

// DeviceID returns the stored device ID, generating and storing a new
// random one on first use.
func (s *Store) DeviceID() (string, error) {
	var id string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDevice)
		if v := b.Get(keyID); v != nil {
			id = string(v)
			return nil
		}
		id = uuid.NewString()
		return b.Put(keyID, []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("device id: %w", err)
	}
	return id, nil
}

// SetDeviceID overrides the stored device ID.
func (s *Store) SetDeviceID(id string) error {
	if id == "" {
		return errors.New("empty device id")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDevice).Put(keyID, []byte(id))
	})
}

// SaveZone stores the configured zone.
func (s *Store) SaveZone(z zone.Zone) error {
	if !z.Valid() {
		return fmt.Errorf("%w: %d", zone.ErrInvalidZone, z)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDevice).Put(keyZone, []byte{byte(z)})
	})
}

// Zone returns the stored zone, if any.
func (s *Store) Zone() (zone.Zone, bool, error) {
	var (
		z  zone.Zone
		ok bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketDevice).Get(keyZone)
		if len(v) == 1 {
			z, ok = zone.Zone(v[0]), true
		}
		return nil
	})
	return z, ok, err
}

// SaveSheet stores sh as the last active sheet.
func (s *Store) SaveSheet(sh *sheet.Sheet) error {
	data, err := sheet.Encode(sh)
	if err != nil {
		return err
	}
	now, err := time.Now().UTC().MarshalBinary()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSheet)
		if err := b.Put(keyActive, data); err != nil {
			return fmt.Errorf("save sheet: %w", err)
		}
		return b.Put(keySavedAt, now)
	})
}

// LoadSheet returns the last active sheet, or nil when none is stored.
// A stored sheet that fails validation or its checksum is an error.
func (s *Store) LoadSheet() (*sheet.Sheet, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketSheet).Get(keyActive); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || data == nil {
		return nil, err
	}

	sh, err := sheet.Decode(data)
	if err != nil {
		return nil, err
	}
	if err := sheet.Validate(sh); err != nil {
		return nil, fmt.Errorf("stored sheet: %w", err)
	}
	if err := sh.Verify(); err != nil {
		return nil, fmt.Errorf("stored sheet: %w", err)
	}
	return sh, nil
}

// ClearSheet removes the stored sheet.
func (s *Store) ClearSheet() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSheet)
		if err := b.Delete(keyActive); err != nil {
			return err
		}
		return b.Delete(keySavedAt)
	})
}

// State summarizes the stored state without generating a device ID.
func (s *Store) State() (*DeviceState, error) {
	st := &DeviceState{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		dev := tx.Bucket(bucketDevice)
		st.DeviceID = string(dev.Get(keyID))
		if v := dev.Get(keyZone); len(v) == 1 {
			st.Zone, st.HasZone = zone.Zone(v[0]), true
		}

		sb := tx.Bucket(bucketSheet)
		if v := sb.Get(keySavedAt); v != nil {
			if err := st.SavedAt.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("saved_at: %w", err)
			}
		}
		if v := sb.Get(keyActive); v != nil {
			sh, err := sheet.Decode(v)
			if err != nil {
				return err
			}
			h := sh.Header()
			st.Sheet = &h
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}
