// Package presence implements spec.md §4.F: the in-process registry
// mapping a user to the set of transport sessions currently open for
// them, with online/offline transitions on the empty<->non-empty edge.
package presence

import "sync"

// OnlineHandler is invoked when a user transitions from offline to
// online, so the caller can trigger the offline-spool drain (§4.G)
// without this package depending on internal/chat.
type OnlineHandler func(userID string)

// OfflineHandler is invoked when a user's session set becomes empty.
type OfflineHandler func(userID string)

// Registry tracks session membership per user. All mutations for a
// given user are serialized by the package mutex; spec.md §5 only
// requires per-user serialization, but a single mutex is simpler than
// per-user striping at this scale and the critical sections are tiny.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]map[string]struct{} // userID -> set<sessionHandle>

	onOnline  OnlineHandler
	onOffline OfflineHandler
}

// New builds a Registry. Either handler may be nil.
func New(onOnline OnlineHandler, onOffline OfflineHandler) *Registry {
	return &Registry{
		sessions:  make(map[string]map[string]struct{}),
		onOnline:  onOnline,
		onOffline: onOffline,
	}
}

// Connect registers sessionHandle under userID. If this is the user's
// first open session, it emits UserOnline and triggers the drain
// callback after releasing the lock.
func (r *Registry) Connect(userID, sessionHandle string) {
	r.mu.Lock()
	set, ok := r.sessions[userID]
	if !ok {
		set = make(map[string]struct{})
		r.sessions[userID] = set
	}
	wasEmpty := len(set) == 0
	set[sessionHandle] = struct{}{}
	r.mu.Unlock()

	if wasEmpty && r.onOnline != nil {
		r.onOnline(userID)
	}
}

// Disconnect removes sessionHandle from userID's set. If the set
// becomes empty, it emits UserOffline after releasing the lock.
func (r *Registry) Disconnect(userID, sessionHandle string) {
	r.mu.Lock()
	set, ok := r.sessions[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(set, sessionHandle)
	becameEmpty := len(set) == 0
	if becameEmpty {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()

	if becameEmpty && r.onOffline != nil {
		r.onOffline(userID)
	}
}

// IsOnline reports whether userID has at least one open session.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[userID]) > 0
}

// Sessions returns a snapshot of userID's open session handles.
func (r *Registry) Sessions(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.sessions[userID]
	out := make([]string, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}
