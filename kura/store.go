// Package kura implements the append-only committed-block store: one
// append-only segment file framed as len:u32_be ‖ payload ‖ crc32, with a
// bbolt index mapping height -> (offset, length) and hash -> height.
package kura

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/kagami-chain/kagami/block"
	"github.com/kagami-chain/kagami/crypto"
)

var (
	bucketHeightIndex = []byte("height_to_offset")
	bucketHashIndex   = []byte("hash_to_height")
)

const segmentFileName = "blocks.log"

// Store is the append-only Kura block log plus its bbolt index.
type Store struct {
	mu sync.Mutex

	log      *logrus.Entry
	provider crypto.Provider
	db       *bolt.DB

	segmentPath string
	segment     *os.File
	// writeOffset is the current end-of-file offset, maintained in memory
	// so appends never need an lseek round trip.
	writeOffset int64

	height  uint64 // height of the last successfully stored block, or 0 if empty
	hasData bool

	watchers []chan uint64
}

type heightIndexEntry struct {
	Offset int64
	Length uint32
}

// Open opens (or creates) a Kura store rooted at dir. A nil log entry
// disables logging (tests).
func Open(dir string, provider crypto.Provider, log *logrus.Entry) (*Store, error) {
	if log == nil {
		quiet := logrus.New()
		quiet.SetOutput(io.Discard)
		log = logrus.NewEntry(quiet)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	segmentPath := filepath.Join(dir, segmentFileName)
	segment, err := os.OpenFile(segmentPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := segment.Stat()
	if err != nil {
		_ = segment.Close()
		return nil, err
	}

	db, err := bolt.Open(filepath.Join(dir, "index.db"), 0o600, nil)
	if err != nil {
		_ = segment.Close()
		return nil, fmt.Errorf("kura: open index: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketHeightIndex); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketHashIndex)
		return err
	}); err != nil {
		_ = segment.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kura: create buckets: %w", err)
	}

	s := &Store{
		log:         log,
		provider:    provider,
		db:          db,
		segmentPath: segmentPath,
		segment:     segment,
		writeOffset: info.Size(),
	}
	if err := s.loadTip(); err != nil {
		_ = segment.Close()
		_ = db.Close()
		return nil, err
	}
	log.WithField("height", s.height).Info("kura: store opened")
	return s, nil
}

func (s *Store) loadTip() error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHeightIndex).Cursor()
		k, _ := c.Last()
		if k == nil {
			return nil
		}
		s.height = binary.BigEndian.Uint64(k)
		s.hasData = true
		return nil
	})
}

// Close releases the segment file and index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	segErr := s.segment.Close()
	dbErr := s.db.Close()
	if segErr != nil {
		return segErr
	}
	return dbErr
}

func heightKey(h uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, h)
	return k
}

func encodeHeightEntry(e heightIndexEntry) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[0:8], uint64(e.Offset))
	binary.BigEndian.PutUint32(buf[8:12], e.Length)
	return buf
}

func decodeHeightEntry(b []byte) heightIndexEntry {
	return heightIndexEntry{
		Offset: int64(binary.BigEndian.Uint64(b[0:8])),
		Length: binary.BigEndian.Uint32(b[8:12]),
	}
}

// StoreBlock appends committed as a length-prefixed, CRC32-trailed record
// to the segment file, fsyncs it, then commits the bbolt index entries.
// The fsync happens strictly before the index commit: a crash between the
// two leaves a trailing record the index does not yet know about, and
// reads simply ignore a trailing incomplete/unindexed record, which is
// what keeps a torn write from ever being observable as a valid block.
func (s *Store) StoreBlock(committed block.CommittedBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasData && committed.Header.Height != s.height+1 {
		return fmt.Errorf("kura: height gap: got %d, expected %d", committed.Header.Height, s.height+1)
	}

	payload := encodeBlock(committed)
	frame := make([]byte, 4+len(payload)+4)
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
	copy(frame[4:4+len(payload)], payload)
	binary.BigEndian.PutUint32(frame[4+len(payload):], crc32.ChecksumIEEE(payload))

	offset := s.writeOffset
	if _, err := s.segment.WriteAt(frame, offset); err != nil {
		return fmt.Errorf("kura: write record: %w", err)
	}
	if err := s.segment.Sync(); err != nil {
		return fmt.Errorf("kura: fsync: %w", err)
	}

	hash := committed.Hash(s.provider)
	entry := heightIndexEntry{Offset: offset, Length: uint32(len(payload))}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketHeightIndex).Put(heightKey(committed.Header.Height), encodeHeightEntry(entry)); err != nil {
			return err
		}
		return tx.Bucket(bucketHashIndex).Put(hash[:], heightKey(committed.Header.Height))
	}); err != nil {
		return fmt.Errorf("kura: commit index: %w", err)
	}

	s.writeOffset += int64(len(frame))
	s.height = committed.Header.Height
	s.hasData = true
	s.log.WithField("height", s.height).Info("kura: block stored")
	s.notifyWatchers(committed.Header.Height)
	return nil
}

// Height returns the height of the last stored block, or 0 if the store is
// empty (genesis is stored at height 1). Implements wsv.HistoricReader.
func (s *Store) Height() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height
}

// HasData reports whether any block has been stored.
func (s *Store) HasData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasData
}

// GetBlockByHeight reads and decodes the committed block at height.
func (s *Store) GetBlockByHeight(height uint64) (block.CommittedBlock, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entry heightIndexEntry
	found := false
	if err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketHeightIndex).Get(heightKey(height))
		if raw == nil {
			return nil
		}
		entry = decodeHeightEntry(raw)
		found = true
		return nil
	}); err != nil {
		return block.CommittedBlock{}, false, err
	}
	if !found {
		return block.CommittedBlock{}, false, nil
	}

	payload := make([]byte, entry.Length)
	if _, err := s.segment.ReadAt(payload, entry.Offset); err != nil {
		return block.CommittedBlock{}, false, fmt.Errorf("kura: read record: %w", err)
	}
	cb, err := decodeBlock(payload)
	if err != nil {
		return block.CommittedBlock{}, false, err
	}
	return cb, true, nil
}

// BlockHashesAfterHash returns the canonical block hashes at every height
// strictly after the block identified by fromHash, in ascending height
// order, up to limit entries (0 means unbounded).
func (s *Store) BlockHashesAfterHash(fromHash [32]byte, limit int) ([][32]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fromHeight uint64
	found := fromHash == [32]byte{}
	if !found {
		if err := s.db.View(func(tx *bolt.Tx) error {
			raw := tx.Bucket(bucketHashIndex).Get(fromHash[:])
			if raw == nil {
				return nil
			}
			fromHeight = binary.BigEndian.Uint64(raw)
			found = true
			return nil
		}); err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("kura: hash not found in index")
		}
	}

	var out [][32]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHeightIndex).Cursor()
		start := heightKey(fromHeight + 1)
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			entry := decodeHeightEntry(v)
			payload := make([]byte, entry.Length)
			if _, err := s.segment.ReadAt(payload, entry.Offset); err != nil {
				return err
			}
			cb, err := decodeBlock(payload)
			if err != nil {
				return err
			}
			out = append(out, cb.Hash(s.provider))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// RewindTo truncates the segment file and index back to height,
// discarding every block after it. Used only by Sumeragi's soft-fork
// recovery.
func (s *Store) RewindTo(height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var truncateOffset int64
	var removeKeys [][]byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		hb := tx.Bucket(bucketHeightIndex)
		keep := hb.Get(heightKey(height))
		if keep == nil && height > 0 {
			return fmt.Errorf("kura: rewind target height %d not found", height)
		}
		if keep != nil {
			entry := decodeHeightEntry(keep)
			truncateOffset = entry.Offset + int64(entry.Length) + 8 // payload + len prefix(4) + crc(4)
		}
		c := hb.Cursor()
		for k, _ := c.Seek(heightKey(height + 1)); k != nil; k, _ = c.Next() {
			removeKeys = append(removeKeys, append([]byte(nil), k...))
		}
		return nil
	}); err != nil {
		return err
	}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		hb := tx.Bucket(bucketHeightIndex)
		hashb := tx.Bucket(bucketHashIndex)
		c := hashb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			h := binary.BigEndian.Uint64(v)
			if h > height {
				if err := hashb.Delete(k); err != nil {
					return err
				}
			}
		}
		for _, k := range removeKeys {
			if err := hb.Delete(k); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := s.segment.Truncate(truncateOffset); err != nil {
		return err
	}
	s.writeOffset = truncateOffset
	s.height = height
	s.hasData = height > 0 || truncateOffset > 0
	s.log.WithField("height", height).Warn("kura: log rewound")
	return nil
}

// Watch returns a channel that receives the height of every block as it
// is stored, letting subscribers react to commits without polling. The
// channel is buffered (depth 1, latest-height-wins) so a slow consumer
// never blocks StoreBlock.
func (s *Store) Watch() <-chan uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan uint64, 1)
	s.watchers = append(s.watchers, ch)
	return ch
}

func (s *Store) notifyWatchers(height uint64) {
	for _, ch := range s.watchers {
		select {
		case ch <- height:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- height:
			default:
			}
		}
	}
}
