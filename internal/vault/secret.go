package vault

import (
	"strings"
	"sync"
)

// UnsealKeyLabel prefixes the unseal key in dev server output.
const UnsealKeyLabel = "Unseal Key:"

// unsealKeyScraper records the text after UnsealKeyLabel. The last
// matching line wins.
type unsealKeyScraper struct {
	mu    sync.RWMutex
	key   string
	found bool

	seen     chan struct{}
	seenOnce sync.Once
}

func newUnsealKeyScraper() *unsealKeyScraper {
	return &unsealKeyScraper{seen: make(chan struct{})}
}

func (u *unsealKeyScraper) OnLine(line string) {
	idx := strings.Index(line, UnsealKeyLabel)
	if idx < 0 {
		return
	}
	value := strings.TrimSpace(line[idx+len(UnsealKeyLabel):])

	u.mu.Lock()
	u.key = value
	u.found = true
	u.mu.Unlock()

	u.seenOnce.Do(func() { close(u.seen) })
}

// OnClosed releases waiters; no key will arrive after the stream ends.
func (u *unsealKeyScraper) OnClosed() {
	u.seenOnce.Do(func() { close(u.seen) })
}

func (u *unsealKeyScraper) Key() (string, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.key, u.found
}
