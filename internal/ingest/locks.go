package ingest

import "sync"

// docLocks provides a per-document critical section: concurrent ingests
// of distinct documents proceed independently, but mutations to a single
// document's index entries are serialized.
type docLocks struct {
	mu    sync.Mutex
	perID map[string]*sync.Mutex
}

func newDocLocks() *docLocks {
	return &docLocks{perID: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for documentID, creating it on first use, and
// returns a function that releases it.
func (d *docLocks) lock(documentID string) func() {
	d.mu.Lock()
	m, ok := d.perID[documentID]
	if !ok {
		m = &sync.Mutex{}
		d.perID[documentID] = m
	}
	d.mu.Unlock()

	m.Lock()
	return m.Unlock
}
