// Package notify delivers engine events to subscribed observers.
//
// The definitions loader publishes diagnostics for every non-fatal problem it
// meets, bounded values publish value and unit changes, and reloads publish
// a reload event. Callers subscribe to all events or to a single Kind.
package notify

import (
	"sync"
)

// Kind identifies the type of event.
type Kind int

const (
	// KindDiagnostic is a non-fatal problem found while loading definitions.
	KindDiagnostic Kind = iota

	// KindValueChanged indicates a bounded value stored a new value.
	KindValueChanged

	// KindUnitChanged indicates a bounded value switched unit.
	KindUnitChanged

	// KindReload indicates the definitions were (re)loaded.
	KindReload
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindDiagnostic:
		return "diagnostic"
	case KindValueChanged:
		return "value_changed"
	case KindUnitChanged:
		return "unit_changed"
	case KindReload:
		return "reload"
	default:
		return "unknown"
	}
}

// Event is a single notification.
type Event struct {
	// Kind is the type of event.
	Kind Kind

	// Source identifies where the event came from (a file path, a value id).
	Source string

	// Message is the short, human-readable description.
	Message string

	// Detail carries optional extra information.
	Detail string

	// LoadID correlates diagnostics produced by the same load.
	LoadID string

	// OldValue is the previous value (may be nil).
	OldValue any

	// NewValue is the new value (may be nil).
	NewValue any
}

// Observer is called when an event is delivered.
type Observer func(event Event)

// Subscription represents an active observer subscription.
type Subscription struct {
	id       uint64
	notifier *Notifier
}

// Unsubscribe removes this subscription.
func (s *Subscription) Unsubscribe() {
	if s != nil && s.notifier != nil {
		s.notifier.unsubscribe(s.id)
	}
}

// Notifier manages subscriptions and event delivery.
type Notifier struct {
	mu sync.RWMutex

	// Observers that receive every event
	globalObservers map[uint64]Observer

	// Observers filtered by kind
	kindObservers map[Kind]map[uint64]Observer

	nextID uint64

	async  bool
	buffer chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithAsync enables asynchronous delivery through a buffer of the given size.
func WithAsync(bufferSize int) Option {
	return func(n *Notifier) {
		if bufferSize > 0 {
			n.async = true
			n.buffer = make(chan Event, bufferSize)
		}
	}
}

// New creates a new Notifier. Delivery is synchronous unless WithAsync is given.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		globalObservers: make(map[uint64]Observer),
		kindObservers:   make(map[Kind]map[uint64]Observer),
		done:            make(chan struct{}),
	}

	for _, opt := range opts {
		opt(n)
	}

	if n.async {
		n.wg.Add(1)
		go n.processAsync()
	}

	return n
}

// Subscribe registers an observer for every event.
func (n *Notifier) Subscribe(observer Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.globalObservers[id] = observer

	return &Subscription{id: id, notifier: n}
}

// SubscribeKind registers an observer for events of a single kind.
func (n *Notifier) SubscribeKind(kind Kind, observer Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++

	if n.kindObservers[kind] == nil {
		n.kindObservers[kind] = make(map[uint64]Observer)
	}
	n.kindObservers[kind][id] = observer

	return &Subscription{id: id, notifier: n}
}

// Notify delivers an event to all matching observers.
// Events sent after Close are dropped.
func (n *Notifier) Notify(event Event) {
	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return
	}
	n.mu.RUnlock()

	if n.async {
		select {
		case n.buffer <- event:
		case <-n.done:
		}
		return
	}

	n.deliver(event)
}

// NotifyDiagnostic is a convenience method for diagnostics.
func (n *Notifier) NotifyDiagnostic(source, message, detail, loadID string) {
	n.Notify(Event{
		Kind:    KindDiagnostic,
		Source:  source,
		Message: message,
		Detail:  detail,
		LoadID:  loadID,
	})
}

// NotifyReload is a convenience method for reload events.
func (n *Notifier) NotifyReload(source, loadID string) {
	n.Notify(Event{
		Kind:   KindReload,
		Source: source,
		LoadID: loadID,
	})
}

// Close shuts down the notifier, draining pending async events.
// It is safe to call Close multiple times.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	close(n.done)
	n.wg.Wait()
}

func (n *Notifier) unsubscribe(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.globalObservers, id)

	for kind, observers := range n.kindObservers {
		delete(observers, id)
		if len(observers) == 0 {
			delete(n.kindObservers, kind)
		}
	}
}

func (n *Notifier) deliver(event Event) {
	n.mu.RLock()

	var observers []Observer
	for _, obs := range n.globalObservers {
		observers = append(observers, obs)
	}
	for _, obs := range n.kindObservers[event.Kind] {
		observers = append(observers, obs)
	}

	n.mu.RUnlock()

	// Call observers outside the lock
	for _, obs := range observers {
		obs(event)
	}
}

func (n *Notifier) processAsync() {
	defer n.wg.Done()

	for {
		select {
		case event := <-n.buffer:
			n.deliver(event)
		case <-n.done:
			for {
				select {
				case event := <-n.buffer:
					n.deliver(event)
				default:
					return
				}
			}
		}
	}
}
