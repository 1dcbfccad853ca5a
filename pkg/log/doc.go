/*
Package log provides structured logging for pvepower using zerolog.

A single global zerolog.Logger is initialized once via Init and shared by all
packages. Output is JSON for production (log aggregation is the service's
only outward surface besides metrics) or the zerolog console writer for
development.

Child-logger helpers attach the fields used throughout the codebase:

	watchLog := log.WithComponent("idle-detector")
	watchLog.Info().Str("node", "pve01").Msg("entering grace period")

	log.WithWorkload(110, "vm").Warn().Msg("shutdown timed out")

Every state transition, cascade stage and error escalation is logged with
node/workload ids and durations so an incident can be diagnosed from logs
alone. Dry-run actions carry an explicit dry_run=true field and are otherwise
logged identically to real runs.
*/
package log
