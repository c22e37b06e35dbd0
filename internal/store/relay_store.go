package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/op/go-logging.v1"

	"vaultline/internal/domain"
	"vaultline/internal/util/keyedmutex"
)

const (
	relayBucket    = "relay"
	metadataBucket = "metadata"
	versionKey     = "version"
	relayVersion   = 0
)

// relayEntry is the cbor value stored under "{recipient}:{index}".
type relayEntry struct {
	Payload    []byte `cbor:"payload"`
	EnqueuedAt int64  `cbor:"enqueuedAt"`
}

// RelayStore is a bbolt-backed FIFO of opaque payloads per recipient.
//
// Layout in the "relay" bucket:
//
//	{recipient}:size    cbor uint64, number of slots written since the last drain
//	{recipient}:{i}     cbor relayEntry, 0 <= i < size
//
// Enqueue and Drain each run in a single write transaction, so a crash never
// leaves a counter that disagrees with the entries. The per-recipient lock
// serializes enqueue and drain for the same recipient within the process.
type RelayStore struct {
	db    *bolt.DB
	locks keyedmutex.Map
	now   func() time.Time
	log   *logging.Logger
}

// OpenRelayStore opens or creates the relay database at path.
func OpenRelayStore(path string, log *logging.Logger) (*RelayStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open relay %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(relayBucket)); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if b := meta.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != relayVersion {
				return fmt.Errorf("store: incompatible relay version %v", b)
			}
			return nil
		}
		return meta.Put([]byte(versionKey), []byte{relayVersion})
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &RelayStore{db: db, now: time.Now, log: log}, nil
}

// Close syncs and closes the database.
func (s *RelayStore) Close() error {
	if err := s.db.Sync(); err != nil {
		s.log.Warningf("relay sync failed: %v", err)
	}
	return s.db.Close()
}

func sizeKey(recipient domain.UserID) []byte {
	return []byte(string(recipient) + ":size")
}

func entryKey(recipient domain.UserID, i uint64) []byte {
	return []byte(string(recipient) + ":" + strconv.FormatUint(i, 10))
}

func readSize(bkt *bolt.Bucket, recipient domain.UserID) (uint64, error) {
	raw := bkt.Get(sizeKey(recipient))
	if raw == nil {
		return 0, nil
	}
	var n uint64
	if err := cbor.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("store: corrupt relay size for %s: %w", recipient, err)
	}
	return n, nil
}

func writeSize(bkt *bolt.Bucket, recipient domain.UserID, n uint64) error {
	raw, err := cbor.Marshal(n)
	if err != nil {
		return err
	}
	return bkt.Put(sizeKey(recipient), raw)
}

// Enqueue appends payload to recipient's queue. The entry and the counter
// are written in the same transaction.
func (s *RelayStore) Enqueue(ctx context.Context, recipient domain.UserID, payload []byte) error {
	if recipient == "" {
		return domain.NewInvalidError("invalid_recipient", "relay recipient is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.Lock(string(recipient))
	defer unlock()

	raw, err := cbor.Marshal(relayEntry{Payload: payload, EnqueuedAt: s.now().Unix()})
	if err != nil {
		return domain.NewStorageError("relay_encode_failed", "relay encode failed", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(relayBucket))
		n, err := readSize(bkt, recipient)
		if err != nil {
			return err
		}
		if err := bkt.Put(entryKey(recipient, n), raw); err != nil {
			return err
		}
		return writeSize(bkt, recipient, n+1)
	})
	if err != nil {
		return domain.NewStorageError("relay_unavailable", "relay enqueue failed", err)
	}
	return nil
}

// Drain removes and returns every queued payload for recipient, oldest
// first. Missing slots are skipped. If anything fails the transaction is
// rolled back and the queue is left untouched.
func (s *RelayStore) Drain(ctx context.Context, recipient domain.UserID) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(string(recipient))
	defer unlock()

	var out [][]byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(relayBucket))
		n, err := readSize(bkt, recipient)
		if err != nil {
			return err
		}
		out = make([][]byte, 0, n)
		for i := uint64(0); i < n; i++ {
			key := entryKey(recipient, i)
			raw := bkt.Get(key)
			if raw == nil {
				continue
			}
			var e relayEntry
			if err := cbor.Unmarshal(raw, &e); err != nil {
				return fmt.Errorf("store: corrupt relay entry %s: %w", key, err)
			}
			out = append(out, e.Payload)
			if err := bkt.Delete(key); err != nil {
				return err
			}
		}
		return writeSize(bkt, recipient, 0)
	})
	if err != nil {
		return nil, domain.NewStorageError("relay_unavailable", "relay drain failed", err)
	}
	if len(out) > 0 {
		s.log.Debugf("drained %d relay entries for %s", len(out), recipient)
	}
	return out, nil
}

// Size returns the recipient's counter, 0 when none has been written.
func (s *RelayStore) Size(ctx context.Context, recipient domain.UserID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		n, err = readSize(tx.Bucket([]byte(relayBucket)), recipient)
		return err
	})
	if err != nil {
		return 0, domain.NewStorageError("relay_unavailable", "relay size failed", err)
	}
	return int(n), nil
}

// Compile-time assertion that RelayStore implements domain.RelayStore.
var _ domain.RelayStore = (*RelayStore)(nil)
