// Package notify fans out post-commit ledger snapshots to subscribers.
//
// The processor publishes one event per committed mutation, after both
// the bill and the customer document are durably written. Subscribers
// therefore never observe a state where bill totals and customer
// rollups disagree.
package notify

import (
	"log/slog"
	"sync"

	"github.com/shopbook/ledger/internal/metrics"
	"github.com/shopbook/ledger/internal/models"
)

// subscriber channel depth. A subscriber that falls this far behind is
// force-detached rather than skipped, so an attached subscriber always
// sees every commit exactly once.
const subscriberBuffer = 64

// Event is one post-commit snapshot. Bill events carry the bill and its
// owning customer's rollups; customer events carry the customer alone.
type Event struct {
	Topic    string           `json:"topic"`
	Bill     *models.Bill     `json:"bill,omitempty"`
	Customer *models.Customer `json:"customer,omitempty"`
}

// BillTopic returns the topic for a single bill's commits.
func BillTopic(billID string) string { return "bill/" + billID }

// CustomerTopic returns the topic for a customer's rollup commits.
func CustomerTopic(customerID string) string { return "customer/" + customerID }

type subscriber struct {
	ch chan Event
}

// Notifier delivers events to per-topic subscribers in publish order.
// Subscribers may attach and detach at any time without affecting
// delivery to others.
type Notifier struct {
	mu     sync.Mutex
	subs   map[string]map[int]*subscriber
	nextID int
}

// New creates an empty Notifier.
func New() *Notifier {
	return &Notifier{subs: make(map[string]map[int]*subscriber)}
}

// Subscribe attaches to a topic. The returned channel is closed when
// the subscription is cancelled or the subscriber is dropped for not
// keeping up. The cancel func is safe to call more than once.
func (n *Notifier) Subscribe(topic string) (<-chan Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	if n.subs[topic] == nil {
		n.subs[topic] = make(map[int]*subscriber)
	}
	n.subs[topic][id] = sub
	metrics.Subscribers.Inc()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			n.remove(topic, id)
		})
	}
	return sub.ch, cancel
}

// Publish delivers an event to every subscriber of its topic. Called
// with the publisher's per-customer commit lock held, so events on one
// topic arrive in commit order.
func (n *Notifier) Publish(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, sub := range n.subs[ev.Topic] {
		select {
		case sub.ch <- ev:
		default:
			// Skipping a commit would break exactly-once, so a stalled
			// subscriber is detached instead.
			slog.Warn("dropping slow snapshot subscriber", "topic", ev.Topic)
			metrics.SubscribersDropped.Inc()
			n.remove(ev.Topic, id)
		}
	}
}

// remove must be called with n.mu held.
func (n *Notifier) remove(topic string, id int) {
	subs, ok := n.subs[topic]
	if !ok {
		return
	}
	sub, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(n.subs, topic)
	}
	close(sub.ch)
	metrics.Subscribers.Dec()
}
