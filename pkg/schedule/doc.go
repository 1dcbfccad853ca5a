/*
Package schedule implements the time-of-day shutdown trigger.

The trigger is evaluated once per supervisor tick. It fires when the wall
clock is at or shortly past the configured hour and minute, and latches on
the calendar date so the plan executes exactly once per day even though the
comparison itself is level-triggered.
*/
package schedule
