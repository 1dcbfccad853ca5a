/*
Package config loads and validates the pvepower service configuration.

Settings come from a YAML file (intervals and periods as plain seconds, the
same keys the original services used) with the Proxmox credentials overlaid
from the environment; a .env file next to the binary is honored for
development. Validation is fatal at startup: check_interval below 30s,
grace_period below 10s, an empty safe tag, out-of-range shutdown times or a
workload id listed in two cascade stages all refuse to start the service.
*/
package config
