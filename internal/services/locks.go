package services

import (
	"sort"
	"sync"
)

// AccountLocks serializes operations touching the same account within this
// process. Cross-process races are caught by the store's version check.
type AccountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func NewAccountLocks() *AccountLocks {
	return &AccountLocks{locks: make(map[string]*accountLock)}
}

// Lock acquires the locks of every given account, in sorted order so that two
// transfers between the same pair cannot deadlock. The returned func releases
// them.
func (l *AccountLocks) Lock(ids ...string) (unlock func()) {
	ids = uniqueSorted(ids)
	held := make([]*accountLock, 0, len(ids))
	for _, id := range ids {
		al := l.acquire(id)
		al.mu.Lock()
		held = append(held, al)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.release(ids[i])
		}
	}
}

func (l *AccountLocks) acquire(id string) *accountLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	al, ok := l.locks[id]
	if !ok {
		al = &accountLock{}
		l.locks[id] = al
	}
	al.refs++
	return al
}

func (l *AccountLocks) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	al := l.locks[id]
	al.refs--
	if al.refs == 0 {
		delete(l.locks, id)
	}
}

func uniqueSorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}
