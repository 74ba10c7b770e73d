package youtube

import (
	"errors"
	"strings"
	"sync"
)

// ErrNoAPIKeys is returned when a client is built without keys.
var ErrNoAPIKeys = errors.New("youtube: at least one api key is required")

// KeyRing hands out API keys round-robin and remembers which key is current
// so an exhausted key is skipped by every later request.
type KeyRing struct {
	mu   sync.Mutex
	keys []string
	cur  int
}

// NewKeyRing builds a ring from keys, ignoring blanks.
func NewKeyRing(keys []string) (*KeyRing, error) {
	var clean []string
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			clean = append(clean, k)
		}
	}
	if len(clean) == 0 {
		return nil, ErrNoAPIKeys
	}
	return &KeyRing{keys: clean}, nil
}

// Len reports the number of keys.
func (r *KeyRing) Len() int {
	return len(r.keys)
}

// Current returns the active key and its slot.
func (r *KeyRing) Current() (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keys[r.cur], r.cur
}

// Rotate moves past slot if it is still the active one and returns the new
// active key. Concurrent callers that saw the same slot rotate only once.
func (r *KeyRing) Rotate(slot int) (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == slot {
		r.cur = (r.cur + 1) % len(r.keys)
	}
	return r.keys[r.cur], r.cur
}
