package approval

import (
	"context"
	"errors"
	"sync"

	"github.com/zen-systems/triagegate/pkg/journal"
)

// Store persists approval requests so pending waits survive a restart.
type Store interface {
	// Put saves or overwrites the request keyed by its ActionID.
	Put(ctx context.Context, req *Request) error

	// Get loads a request by action id. Returns ErrNotFound when absent.
	Get(ctx context.Context, actionID string) (*Request, error)

	// ListPending returns every request still in the pending state.
	ListPending(ctx context.Context) ([]*Request, error)
}

const journalKind = "approvals"

// JournalStore keeps approval requests as journal records, one file per
// action id.
type JournalStore struct {
	j *journal.Store
}

// NewJournalStore wraps a journal as an approval store.
func NewJournalStore(j *journal.Store) *JournalStore {
	return &JournalStore{j: j}
}

// NewJournalStoreAt opens a journal-backed store rooted at baseDir.
func NewJournalStoreAt(baseDir string) *JournalStore {
	j, err := journal.NewStore(baseDir)
	if err != nil {
		// NewStore only fails when resolving the home directory for an
		// empty path; an explicit baseDir cannot hit that.
		panic(err)
	}
	return &JournalStore{j: j}
}

func (s *JournalStore) Put(ctx context.Context, req *Request) error {
	return s.j.Put(journalKind, req.ActionID, req)
}

func (s *JournalStore) Get(ctx context.Context, actionID string) (*Request, error) {
	var req Request
	if err := s.j.Get(journalKind, actionID, &req); err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (s *JournalStore) ListPending(ctx context.Context) ([]*Request, error) {
	ids, err := s.j.List(journalKind)
	if err != nil {
		return nil, err
	}
	var pending []*Request
	for _, id := range ids {
		var req Request
		if err := s.j.Get(journalKind, id, &req); err != nil {
			if errors.Is(err, journal.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if req.Status == StatusPending {
			r := req
			pending = append(pending, &r)
		}
	}
	return pending, nil
}

// MemoryStore is an in-process store for tests and single-run tooling.
type MemoryStore struct {
	mu   sync.RWMutex
	reqs map[string]Request
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reqs: make(map[string]Request)}
}

func (s *MemoryStore) Put(ctx context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs[req.ActionID] = *req
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, actionID string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.reqs[actionID]
	if !ok {
		return nil, ErrNotFound
	}
	r := req
	return &r, nil
}

func (s *MemoryStore) ListPending(ctx context.Context) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []*Request
	for _, req := range s.reqs {
		if req.Status == StatusPending {
			r := req
			pending = append(pending, &r)
		}
	}
	return pending, nil
}
