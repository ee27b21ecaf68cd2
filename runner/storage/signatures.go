package storage

import (
	"errors"
	"os"
	"sync"
)

// SignatureStore remembers the signature each output base was last produced
// with. It is safe for concurrent use by engine workers.
type SignatureStore struct {
	path string
	mu   sync.RWMutex
	sigs map[string]string
}

// OpenSignatureStore loads the store at path, starting empty if it does not exist.
func OpenSignatureStore(path string) (*SignatureStore, error) {
	sigs := map[string]string{}
	if err := readMsgpack(path, &sigs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return &SignatureStore{path: path, sigs: sigs}, nil
}

// Get returns the recorded signature of an output base.
func (s *SignatureStore) Get(base string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.sigs[base]
	return sig, ok
}

// Set records the signature an output base was produced with.
func (s *SignatureStore) Set(base, sig string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sigs[base] = sig
}

// Delete forgets an output base.
func (s *SignatureStore) Delete(base string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sigs, base)
}

// Save writes the store back to disk.
func (s *SignatureStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return writeMsgpack(s.path, s.sigs)
}
