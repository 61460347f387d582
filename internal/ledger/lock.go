package ledger

import "sync"

// AccountLocks serializes transfers per sender account. Sequence numbers are
// assigned per account, so two settlements drawing from the same account must
// not interleave their submissions; settlements from different accounts run
// in parallel.
type AccountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAccountLocks() *AccountLocks {
	return &AccountLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for address, creating it on first use. The returned
// func releases it.
func (l *AccountLocks) Lock(address string) func() {
	l.mu.Lock()
	m, ok := l.locks[address]
	if !ok {
		m = &sync.Mutex{}
		l.locks[address] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
