// Package fastconnect caches fast-connect tokens: a per-device (token id, PIN) pair that lets a
// returning operator skip the full certificate handshake.
package fastconnect

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/glothriel/airlink/pkg/ble"
)

// Entry is a cached fast-connect token of a single device
type Entry struct {
	MAC     string `json:"mac"`
	TokenID uint32 `json:"tokenId"`
	PIN     uint32 `json:"token"`
}

// Store keeps at most one Entry per device address. Entries never expire; the device is responsible
// for rejecting stale tokens.
type Store interface {
	Save(mac string, tokenID, pin uint32) error
	Get(mac string) (Entry, bool, error)
	Remove(mac string) error
	Clear() error
	List() ([]Entry, error)
	Close() error
}

// record is the durable storage of the serialized entry list. All entries live in one record, so
// every modification rewrites all of them.
type record interface {
	load() ([]byte, error)
	store([]byte) error
	close() error
}

type recordStore struct {
	lock   sync.Mutex
	record record
}

func (s *recordStore) read() ([]Entry, error) {
	data, loadErr := s.record.load()
	if loadErr != nil {
		return nil, loadErr
	}
	if len(data) == 0 {
		return []Entry{}, nil
	}
	var entries []Entry
	if decodeErr := json.Unmarshal(data, &entries); decodeErr != nil {
		return nil, fmt.Errorf("corrupted fast-connect record: %w", decodeErr)
	}
	return entries, nil
}

func (s *recordStore) write(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	encoded, encodeErr := json.Marshal(entries)
	if encodeErr != nil {
		return encodeErr
	}
	return s.record.store(encoded)
}

func (s *recordStore) Save(mac string, tokenID, pin uint32) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	entries, readErr := s.read()
	if readErr != nil {
		return readErr
	}
	entry := Entry{MAC: ble.NormalizeAddress(mac), TokenID: tokenID, PIN: pin}
	for i := range entries {
		if entries[i].MAC == entry.MAC {
			entries[i] = entry
			return s.write(entries)
		}
	}
	return s.write(append(entries, entry))
}

func (s *recordStore) Get(mac string) (Entry, bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	entries, readErr := s.read()
	if readErr != nil {
		return Entry{}, false, readErr
	}
	normalized := ble.NormalizeAddress(mac)
	for _, entry := range entries {
		if entry.MAC == normalized {
			return entry, true, nil
		}
	}
	return Entry{}, false, nil
}

func (s *recordStore) Remove(mac string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	entries, readErr := s.read()
	if readErr != nil {
		return readErr
	}
	normalized := ble.NormalizeAddress(mac)
	kept := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.MAC != normalized {
			kept = append(kept, entry)
		}
	}
	if len(kept) == len(entries) {
		return nil
	}
	return s.write(kept)
}

func (s *recordStore) Clear() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.write([]Entry{})
}

func (s *recordStore) List() ([]Entry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	entries, readErr := s.read()
	if readErr != nil {
		return nil, readErr
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].MAC < entries[j].MAC
	})
	return entries, nil
}

func (s *recordStore) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.record.close()
}

type inMemoryRecord struct {
	data []byte
}

func (r *inMemoryRecord) load() ([]byte, error) {
	return r.data, nil
}

func (r *inMemoryRecord) store(data []byte) error {
	r.data = data
	return nil
}

func (r *inMemoryRecord) close() error {
	return nil
}

// NewInMemoryStore creates a Store that is lost when the process exits
func NewInMemoryStore() Store {
	return &recordStore{record: &inMemoryRecord{}}
}

