package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ChangeKind names what happened to a customer
type ChangeKind string

const (
	ChangeCustomerCreated ChangeKind = "customer_created"
	ChangeMiningStatus    ChangeKind = "mining_status_changed"
	ChangeCustomerType    ChangeKind = "customer_type_changed"
	ChangeRetargetTier    ChangeKind = "retarget_tier_changed"
)

// ChangeEvent is one Customer-Type Change Bus notification
type ChangeEvent struct {
	ID         string     `json:"id"`
	Kind       ChangeKind `json:"kind"`
	PageID     string     `json:"page_id"`
	CustomerID uint       `json:"customer_id"`
	PSID       string     `json:"psid"`
	Name       string     `json:"name,omitempty"`
	GroupKind  string     `json:"group_kind,omitempty"`
	GroupID    *uint      `json:"group_id,omitempty"`
	Status     string     `json:"status,omitempty"`
	Source     string     `json:"source,omitempty"`
	At         time.Time  `json:"at"`
}

// ChangePublisher is what producers depend on
type ChangePublisher interface {
	Publish(ev ChangeEvent)
}

// ChangeBus is a bounded in-process queue of customer change events.
// Publish never blocks: when the queue is full the event is dropped and logged.
type ChangeBus struct {
	ch     chan ChangeEvent
	log    *logrus.Logger
	once   sync.Once
	closed chan struct{}
}

func NewChangeBus(size int, log *logrus.Logger) *ChangeBus {
	if size <= 0 {
		size = 1024
	}
	return &ChangeBus{
		ch:     make(chan ChangeEvent, size),
		log:    log,
		closed: make(chan struct{}),
	}
}

func (b *ChangeBus) Publish(ev ChangeEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	select {
	case <-b.closed:
		return
	default:
	}

	select {
	case b.ch <- ev:
	default:
		b.log.WithFields(logrus.Fields{
			"kind":        ev.Kind,
			"page_id":     ev.PageID,
			"customer_id": ev.CustomerID,
		}).Warn("change bus full, dropping event")
	}
}

// Events is the consumer side of the bus
func (b *ChangeBus) Events() <-chan ChangeEvent {
	return b.ch
}

// Close stops accepting events. Publish after Close is a no-op.
func (b *ChangeBus) Close() {
	b.once.Do(func() {
		close(b.closed)
	})
}
