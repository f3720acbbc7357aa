package relay

import "sync"

// ObserverFrame is the normalized event stream an observer client consumes.
type ObserverFrame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

const observerBuffer = 64

// ObserverHub fans session events out to attached observer clients, keyed
// by call SID. Sessions publish without blocking: a slow observer loses
// frames rather than stalling the call.
type ObserverHub struct {
	mu   sync.RWMutex
	subs map[string]map[chan ObserverFrame]struct{}
}

func NewObserverHub() *ObserverHub {
	return &ObserverHub{subs: map[string]map[chan ObserverFrame]struct{}{}}
}

// Subscribe attaches an observer to a call. The returned cancel func
// detaches it; the channel is closed when the call's session ends.
func (h *ObserverHub) Subscribe(callSID string) (<-chan ObserverFrame, func()) {
	ch := make(chan ObserverFrame, observerBuffer)

	h.mu.Lock()
	if h.subs[callSID] == nil {
		h.subs[callSID] = map[chan ObserverFrame]struct{}{}
	}
	h.subs[callSID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[callSID]; ok {
				if _, still := set[ch]; still {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(h.subs, callSID)
				}
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers a frame to every observer of the call. Full observer
// buffers drop the frame.
func (h *ObserverHub) Publish(callSID string, frame ObserverFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[callSID] {
		select {
		case ch <- frame:
		default:
		}
	}
}

// CloseCall ends the stream for every observer of the call.
func (h *ObserverHub) CloseCall(callSID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[callSID] {
		close(ch)
	}
	delete(h.subs, callSID)
}
