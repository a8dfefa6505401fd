// Package queue implements the durable, namespace-partitioned event
// queue described in spec §4.5, backed by go.etcd.io/bbolt — the
// embedded, crash-safe key/value store already in the teacher's
// go.mod (xendarboh-katzenpost), standing in for the original Rust
// implementation's sled database.
//
// Key scheme (spec §9 open question, resolved): each namespace gets
// two buckets. The "events" bucket is keyed by an 8-byte big-endian
// sequence number from bbolt's own per-bucket NextSequence, so a
// forward cursor scan yields insertion order for free (spec §4.5
// requires this; a raw "<namespace>:<event_id>" key would not, since
// event ids are random UUIDs). The "index" bucket maps event id to
// that sequence key, giving Remove an O(1) direct delete instead of a
// linear scan.
package queue

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	bolt "go.etcd.io/bbolt"

	"github.com/DLiSWE/H3X/internal/protocol"
)

const (
	eventsBucketPrefix = "events:"
	indexBucketPrefix  = "index:"
)

// Queue is a shareable handle onto the durable store. The underlying
// *bolt.DB serializes its own transactions; callers may use a Queue
// concurrently from many goroutines, and operations on independent
// namespaces never contend with each other beyond bbolt's single
// writer-transaction-at-a-time rule.
type Queue struct {
	db  *bolt.DB
	log *log.Logger
}

// Open opens (creating if absent) the bbolt database at path.
func Open(path string, logger *log.Logger) (*Queue, error) {
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "queue"})
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("queue: creating data directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("queue: opening %s: %w", path, err)
	}
	return &Queue{db: db, log: logger}, nil
}

func eventsBucket(ns string) []byte { return []byte(eventsBucketPrefix + ns) }
func indexBucket(ns string) []byte  { return []byte(indexBucketPrefix + ns) }

// Enqueue persists the full encoded Event frame into the partition
// named by its namespace, using a fresh monotonic key. frame.Payload
// MUST be an *protocol.Event.
func (q *Queue) Enqueue(frame *protocol.Frame) error {
	ev, ok := frame.Payload.(*protocol.Event)
	if !ok {
		return fmt.Errorf("queue: enqueue requires an Event payload, got %T", frame.Payload)
	}
	if ev.Namespace == "" {
		return fmt.Errorf("queue: event has empty namespace")
	}

	return q.db.Update(func(tx *bolt.Tx) error {
		eb, err := tx.CreateBucketIfNotExists(eventsBucket(ev.Namespace))
		if err != nil {
			return err
		}
		ib, err := tx.CreateBucketIfNotExists(indexBucket(ev.Namespace))
		if err != nil {
			return err
		}

		seq, err := eb.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)

		if err := eb.Put(key, frame.Encode()); err != nil {
			return err
		}
		return ib.Put([]byte(ev.ID), key)
	})
}

// Fetch scans the namespace partition in insertion order and decodes
// up to max frames (max <= 0 means unlimited — callers implementing
// spec §4.4's FetchEvents.limit==0 "server default cap" semantics
// should resolve that before calling Fetch). Undecodable entries are
// logged and skipped; they never halt the scan.
func (q *Queue) Fetch(namespace string, max int) ([]*protocol.Frame, error) {
	var frames []*protocol.Frame

	err := q.db.View(func(tx *bolt.Tx) error {
		eb := tx.Bucket(eventsBucket(namespace))
		if eb == nil {
			return nil
		}
		c := eb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			f, err := protocol.Decode(v)
			if err != nil {
				q.log.Warnf("queue: skipping undecodable entry in %s: %v", namespace, err)
				continue
			}
			frames = append(frames, f)
			if max > 0 && len(frames) >= max {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue: fetch %s: %w", namespace, err)
	}
	return frames, nil
}

// Remove deletes the record for eventID from namespace's partition.
// Removing an unknown or already-removed id is a no-op, making acks
// idempotent per spec §8 property 2.
func (q *Queue) Remove(namespace, eventID string) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		ib := tx.Bucket(indexBucket(namespace))
		if ib == nil {
			return nil
		}
		key := ib.Get([]byte(eventID))
		if key == nil {
			return nil
		}
		keyCopy := append([]byte(nil), key...)
		if err := ib.Delete([]byte(eventID)); err != nil {
			return err
		}
		eb := tx.Bucket(eventsBucket(namespace))
		if eb == nil {
			return nil
		}
		return eb.Delete(keyCopy)
	})
}

// Depth reports the number of persisted, unacknowledged events in a
// namespace partition. No publish, fetch or ack path calls it.
func (q *Queue) Depth(namespace string) (int, error) {
	n := 0
	err := q.db.View(func(tx *bolt.Tx) error {
		eb := tx.Bucket(eventsBucket(namespace))
		if eb == nil {
			return nil
		}
		n = eb.Stats().KeyN
		return nil
	})
	return n, err
}

// Flush fsyncs the database file.
func (q *Queue) Flush() error {
	return q.db.Sync()
}

// Close releases the underlying file lock.
func (q *Queue) Close() error {
	return q.db.Close()
}
