package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type represents the type of power event
type Type string

const (
	TypeNodeActive        Type = "node.active"
	TypeNodeGrace         Type = "node.grace"
	TypeNodeShutdown      Type = "node.shutdown"
	TypeNodeUptimeLow     Type = "node.uptime-low"
	TypeStageCompleted    Type = "cascade.stage-completed"
	TypeWorkloadShutdown  Type = "cascade.workload-shutdown"
	TypeScheduleTriggered Type = "schedule.triggered"
	TypeCycleError        Type = "supervisor.cycle-error"
	TypeErrorThreshold    Type = "supervisor.error-threshold"
)

// Event represents a single power-management event. Subject is the node or
// stage the event concerns.
type Event struct {
	ID        string
	Type      Type
	Subject   string
	Timestamp time.Time
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker distributes power events to subscribers. Publishing never blocks:
// a subscriber that cannot keep up drops events rather than stalling the
// poll loop.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish enqueues an event for distribution. Drops the event if the broker
// buffer is full or the broker is stopped.
func (b *Broker) Publish(eventType Type, subject string, metadata map[string]string) {
	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Subject:   subject,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
	}
}

// run distributes events to all subscribers until stopped
func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, drop rather than block the loop.
		}
	}
}
