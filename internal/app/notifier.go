package app

import "sync"

// notifier fans out per-party change signals to push-stream subscribers.
// Signals are coalescing: a subscriber that has not consumed the pending
// signal does not queue another one.
type notifier struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[string]map[chan struct{}]struct{})}
}

func (n *notifier) Subscribe(partyID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	if n.subs[partyID] == nil {
		n.subs[partyID] = make(map[chan struct{}]struct{})
	}
	n.subs[partyID][ch] = struct{}{}
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		if set, ok := n.subs[partyID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(n.subs, partyID)
			}
		}
		n.mu.Unlock()
	}
	return ch, cancel
}

func (n *notifier) Notify(partyID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs[partyID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
