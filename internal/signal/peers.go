package signal

import "sync"

// KnownPeers is the set of remote ids whose arrival has already been
// reported. It is the only guard against a presence join and a presence sync
// announcing the same peer twice.
type KnownPeers struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewKnownPeers() *KnownPeers {
	return &KnownPeers{ids: make(map[string]struct{})}
}

// Observe records id and reports whether this is its first sighting.
func (k *KnownPeers) Observe(id string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.ids[id]; ok {
		return false
	}
	k.ids[id] = struct{}{}
	return true
}

// Forget removes id and reports whether it was present.
func (k *KnownPeers) Forget(id string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.ids[id]; !ok {
		return false
	}
	delete(k.ids, id)
	return true
}

// Drain empties the set and returns what it held.
func (k *KnownPeers) Drain() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]string, 0, len(k.ids))
	for id := range k.ids {
		out = append(out, id)
	}
	k.ids = make(map[string]struct{})
	return out
}

func (k *KnownPeers) Contains(id string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.ids[id]
	return ok
}

func (k *KnownPeers) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.ids)
}
