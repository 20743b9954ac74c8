// Package feed notifies every view holding a profile open when that profile
// or its knowledge documents change, whichever process made the write.
package feed

import (
	"context"
	"log"
	"sync"
	"time"

	"avatarstudio/api/internal/store"
)

// Kind says what part of a profile changed.
type Kind string

const (
	KindProfile   Kind = "profile"
	KindDocuments Kind = "documents"
)

// Change is one notification. Fields carries the written values for
// KindProfile; Changed lists their names.
type Change struct {
	ProfileID string              `json:"profileId"`
	Origin    string              `json:"origin,omitempty"`
	Kind      Kind                `json:"kind"`
	Fields    *store.ProfilePatch `json:"fields,omitempty"`
	Changed   []string            `json:"changed,omitempty"`
	At        time.Time           `json:"at"`
}

// Transport carries changes between processes. Publish must not call back
// into the hub synchronously; delivery happens from the transport's receive
// loop via Hub.Dispatch.
type Transport interface {
	Publish(ctx context.Context, change Change) error
	Run(ctx context.Context, hub *Hub) error
}

const subscriberCapacity = 64

// subscriber runs its callback on its own goroutine, fed by a bounded queue,
// so a slow view never holds up delivery to the others.
type subscriber struct {
	id    uint64
	fn    func(Change)
	queue chan Change
	stop  chan struct{}
}

func newSubscriber(id uint64, fn func(Change)) *subscriber {
	sub := &subscriber{
		id:    id,
		fn:    fn,
		queue: make(chan Change, subscriberCapacity),
		stop:  make(chan struct{}),
	}
	go sub.loop()
	return sub
}

func (s *subscriber) loop() {
	for {
		select {
		case <-s.stop:
			return
		case change := <-s.queue:
			select {
			case <-s.stop:
				return
			default:
			}
			invoke(s.fn, change)
		}
	}
}

// deliver never blocks. When the queue is full the oldest pending change is
// dropped; newer changes carry the latest values.
func (s *subscriber) deliver(change Change) {
	select {
	case <-s.stop:
		return
	default:
	}
	select {
	case s.queue <- change:
		return
	default:
	}
	select {
	case dropped := <-s.queue:
		log.Printf("feed: subscriber %d for %s is behind, dropped change from %s", s.id, dropped.ProfileID, dropped.At.Format(time.RFC3339Nano))
	default:
	}
	select {
	case s.queue <- change:
	default:
		log.Printf("feed: subscriber %d for %s is behind, dropped change", s.id, change.ProfileID)
	}
}

func (s *subscriber) close() {
	close(s.stop)
}

// Hub fans changes out to the in-process subscribers of each profile.
type Hub struct {
	transport Transport

	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]*subscriber
}

// NewHub creates a hub. A nil transport delivers in-process only.
func NewHub(transport Transport) *Hub {
	if transport == nil {
		transport = NewLocalTransport(256)
	}
	return &Hub{
		transport: transport,
		subs:      make(map[string][]*subscriber),
	}
}

// Subscription is the handle returned by Subscribe. Holders must call
// Unsubscribe when they stop displaying the profile.
type Subscription struct {
	hub       *Hub
	profileID string
	id        uint64
	once      sync.Once
}

func (s *Subscription) ProfileID() string {
	return s.profileID
}

// Unsubscribe releases the handle. Calling it more than once is harmless.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.hub.remove(s.profileID, s.id)
	})
}

// Subscribe registers fn for changes to profileID. Any number of
// subscribers may watch the same profile.
func (h *Hub) Subscribe(profileID string, fn func(Change)) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.subs[profileID] = append(h.subs[profileID], newSubscriber(h.nextID, fn))
	return &Subscription{hub: h, profileID: profileID, id: h.nextID}
}

// Unsubscribe is equivalent to sub.Unsubscribe().
func (h *Hub) Unsubscribe(sub *Subscription) {
	sub.Unsubscribe()
}

func (h *Hub) remove(profileID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	current := h.subs[profileID]
	kept := make([]*subscriber, 0, len(current))
	for _, sub := range current {
		if sub.id == id {
			sub.close()
			continue
		}
		kept = append(kept, sub)
	}
	if len(kept) == 0 {
		delete(h.subs, profileID)
		return
	}
	h.subs[profileID] = kept
}

// SubscriberCount returns the number of live subscriptions for profileID.
func (h *Hub) SubscriberCount(profileID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[profileID])
}

// Publish hands change to the transport. Delivery is at most once and is
// not replayed to subscribers that join later.
func (h *Hub) Publish(ctx context.Context, change Change) error {
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}
	if change.Fields != nil && len(change.Changed) == 0 {
		change.Changed = change.Fields.Fields()
	}
	return h.transport.Publish(ctx, change)
}

// Run drives the transport's receive loop until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	return h.transport.Run(ctx, h)
}

// Dispatch queues change for every subscriber of change.ProfileID and
// returns without waiting for the callbacks. Each subscriber sees changes in
// dispatch order. A panicking callback is logged and does not stop the others.
func (h *Hub) Dispatch(change Change) {
	h.mu.RLock()
	subs := append([]*subscriber(nil), h.subs[change.ProfileID]...)
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(change)
	}
}

func invoke(fn func(Change), change Change) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("feed: subscriber for %s panicked: %v", change.ProfileID, r)
		}
	}()
	fn(change)
}

type originKey struct{}

// WithOrigin tags writes made with ctx as coming from origin (a session id),
// so that session can recognise its own echoes.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

func OriginFrom(ctx context.Context) string {
	origin, _ := ctx.Value(originKey{}).(string)
	return origin
}
