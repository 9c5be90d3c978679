package bot

import "sync"

// chatLocks serializes directory mutations per chat id. Entries are
// refcounted and dropped when the last holder unlocks.
type chatLocks struct {
	mu sync.Mutex
	m  map[int64]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

func newChatLocks() *chatLocks { return &chatLocks{m: map[int64]*chatLock{}} }

func (l *chatLocks) Lock(id int64) func() {
	l.mu.Lock()
	e := l.m[id]
	if e == nil {
		e = &chatLock{}
		l.m[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}

func (l *chatLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
