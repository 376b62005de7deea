package realtime

import (
	"sort"
	"sync"
)

// Subscription is one listener's registration on one destination. The handle
// is the only way to release a single registration; releasing it never
// affects sibling registrations on the same destination.
type Subscription struct {
	id          int64
	destination string
	once        sync.Once
	cancel      func()
}

// ID returns the process-unique subscription id.
func (s *Subscription) ID() int64 {
	return s.id
}

// Destination returns the destination this subscription is registered on.
func (s *Subscription) Destination() string {
	return s.destination
}

// NewSubscription builds a detached handle whose Unsubscribe runs cancel at
// most once. The manager builds its own handles; this constructor exists for
// publishers that stand in for the manager.
func NewSubscription(id int64, destination string, cancel func()) *Subscription {
	return &Subscription{id: id, destination: destination, cancel: cancel}
}

// Unsubscribe releases this registration. It is idempotent and safe to call
// after the connection has been torn down.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(s.cancel)
}

// subscriptionTable maps destinations to their active handler registrations.
// It is the only structure shared between the manager's reader goroutine and
// callers, so every access goes through its mutex.
type subscriptionTable struct {
	mu            sync.Mutex
	nextID        int64
	byDestination map[string]map[int64]Handler
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{byDestination: make(map[string]map[int64]Handler)}
}

// add registers handler on destination and returns the new registration id.
// Ids increase monotonically for the life of the process.
func (t *subscriptionTable) add(destination string, handler Handler) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	registrations, ok := t.byDestination[destination]
	if !ok {
		registrations = make(map[int64]Handler)
		t.byDestination[destination] = registrations
	}
	registrations[id] = handler
	return id
}

// remove drops a single registration. It reports whether the registration
// existed and whether the destination has no registrations left.
func (t *subscriptionTable) remove(destination string, id int64) (removed, last bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	registrations, ok := t.byDestination[destination]
	if !ok {
		return false, false
	}
	if _, ok := registrations[id]; !ok {
		return false, false
	}
	delete(registrations, id)
	if len(registrations) == 0 {
		delete(t.byDestination, destination)
		return true, true
	}
	return true, false
}

// removeAll drops every registration for destination and returns how many
// were removed.
func (t *subscriptionTable) removeAll(destination string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := len(t.byDestination[destination])
	delete(t.byDestination, destination)
	return count
}

// handlers returns a snapshot of destination's handlers in registration
// order.
func (t *subscriptionTable) handlers(destination string) []Handler {
	t.mu.Lock()
	defer t.mu.Unlock()

	registrations := t.byDestination[destination]
	if len(registrations) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(registrations))
	for id := range registrations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	snapshot := make([]Handler, 0, len(ids))
	for _, id := range ids {
		snapshot = append(snapshot, registrations[id])
	}
	return snapshot
}

// destinations returns a sorted snapshot of destinations with at least one
// registration.
func (t *subscriptionTable) destinations() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.byDestination))
	for destination := range t.byDestination {
		names = append(names, destination)
	}
	sort.Strings(names)
	return names
}

// clear drops every registration. Ids keep increasing across clears.
func (t *subscriptionTable) clear() {
	t.mu.Lock()
	t.byDestination = make(map[string]map[int64]Handler)
	t.mu.Unlock()
}

// count returns the number of registrations for destination.
func (t *subscriptionTable) count(destination string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byDestination[destination])
}
