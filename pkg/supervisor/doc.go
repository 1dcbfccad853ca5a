/*
Package supervisor drives the service's fixed-interval poll loop.

One cycle function is invoked per tick: the idle watcher checks every
monitored node, the scheduled watcher evaluates the time trigger. A faulted
cycle (typically an unreachable cluster API) is logged and counted but does
not stop the loop; any clean cycle resets the counter. When
MaxConsecutiveErrors cycles fault in a row the loop halts with
ErrTooManyFailures and the process exits non-zero, leaving the restart
decision to the external process supervisor.
*/
package supervisor
