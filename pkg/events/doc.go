/*
Package events provides a broker for power-management events.

The idle detector, cascade orchestrator, scheduled trigger and supervisor
publish state transitions and escalations here; consumers subscribe to feed
metrics or external log aggregation. Publishing is non-blocking: the poll
loop must never stall on a slow consumer, so events are dropped when a
subscriber's buffer is full.
*/
package events
