// Package packetbolt is a BoltDB-backed packet archive. It persists fresh
// broadcast packets so a restarted node can re-seed its in-memory stores
// instead of depending entirely on peers for recovery.
package packetbolt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"meshnode/internal/proto"
)

const (
	bByID = "packets_by_id"
	bByTS = "packets_by_ts"

	defaultTO = 2 * time.Second
)

// Store implements gossip.Archive on a bbolt database. Packets are stored as
// their encoded frames; the by-timestamp bucket orders them for range sweeps.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the archive at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultTO})
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bByID)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(bByTS))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Put archives one packet; a known ID is a no-op.
func (s *Store) Put(pkt *proto.Packet) error {
	frame, err := proto.Encode(pkt, false)
	if err != nil {
		return err
	}
	id := proto.IDOf(pkt)

	return s.db.Update(func(tx *bolt.Tx) error {
		byID := tx.Bucket([]byte(bByID))
		if byID.Get(id[:]) != nil {
			return nil
		}
		if err := byID.Put(id[:], frame); err != nil {
			return err
		}
		return tx.Bucket([]byte(bByTS)).Put(tsKey(pkt.Timestamp, id), id[:])
	})
}

// LoadFresh returns every archived packet with timestamp >= cutoffMs, oldest
// first. Undecodable entries are skipped, not fatal.
func (s *Store) LoadFresh(cutoffMs uint64) ([]*proto.Packet, error) {
	var out []*proto.Packet
	err := s.db.View(func(tx *bolt.Tx) error {
		byID := tx.Bucket([]byte(bByID))
		c := tx.Bucket([]byte(bByTS)).Cursor()

		var seek [8]byte
		binary.BigEndian.PutUint64(seek[:], cutoffMs)
		for k, idRef := c.Seek(seek[:]); k != nil; k, idRef = c.Next() {
			frame := byID.Get(idRef)
			if frame == nil {
				continue
			}
			pkt, err := proto.Decode(frame)
			if err != nil {
				continue
			}
			out = append(out, pkt)
		}
		return nil
	})
	return out, err
}

// SweepStale deletes packets older than cutoffMs and reports how many went.
func (s *Store) SweepStale(cutoffMs uint64) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		byID := tx.Bucket([]byte(bByID))
		byTS := tx.Bucket([]byte(bByTS))
		c := byTS.Cursor()

		var limit [8]byte
		binary.BigEndian.PutUint64(limit[:], cutoffMs)
		for k, idRef := c.First(); k != nil; k, idRef = c.Next() {
			if bytes.Compare(k[:8], limit[:]) >= 0 {
				break
			}
			if err := byID.Delete(idRef); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// Len counts archived packets.
func (s *Store) Len() (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(bByID)).Stats().KeyN
		return nil
	})
	return n, err
}

func tsKey(ts uint64, id proto.PacketID) []byte {
	key := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(key[:8], ts)
	copy(key[8:], id[:])
	return key
}
