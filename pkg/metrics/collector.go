package metrics

import (
	"github.com/pvetools/pvepower/pkg/events"
	"github.com/pvetools/pvepower/pkg/types"
)

// Collector feeds prometheus metrics from the power event stream
type Collector struct {
	broker *events.Broker
	sub    events.Subscriber
	stopCh chan struct{}
}

// NewCollector creates a collector subscribed to the broker
func NewCollector(broker *events.Broker) *Collector {
	return &Collector{
		broker: broker,
		sub:    broker.Subscribe(),
		stopCh: make(chan struct{}),
	}
}

// Start begins consuming events
func (c *Collector) Start() {
	go c.run()
}

// Stop unsubscribes and stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
	c.broker.Unsubscribe(c.sub)
}

func (c *Collector) run() {
	for {
		select {
		case event, ok := <-c.sub:
			if !ok {
				return
			}
			c.record(event)
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) record(event *events.Event) {
	switch event.Type {
	case events.TypeNodeActive, events.TypeNodeGrace, events.TypeNodeShutdown, events.TypeNodeUptimeLow:
		StateTransitionsTotal.WithLabelValues(string(event.Type)).Inc()
		if to, ok := event.Metadata["to"]; ok {
			c.setNodeState(event.Subject, types.IdleState(to))
		}
	case events.TypeStageCompleted:
		CascadeStagesTotal.Inc()
	case events.TypeWorkloadShutdown:
		if outcome, ok := event.Metadata["outcome"]; ok {
			WorkloadShutdownsTotal.WithLabelValues(outcome).Inc()
		}
	}
}

// setNodeState exposes exactly one set state per node
func (c *Collector) setNodeState(node string, state types.IdleState) {
	for _, s := range []types.IdleState{types.IdleActive, types.IdleGrace, types.IdleShuttingDown} {
		value := 0.0
		if s == state {
			value = 1.0
		}
		NodeState.WithLabelValues(node, string(s)).Set(value)
	}
}
