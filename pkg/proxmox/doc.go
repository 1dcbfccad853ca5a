/*
Package proxmox wraps the Proxmox VE REST API.

The decision core depends only on the API interface; Client is the
production implementation using token authentication against the
/api2/json endpoints (qemu and lxc listings, workload config for tags,
status/shutdown posts, node status for uptime and node power-off).

The client holds no state beyond the connection settings: every call hits
the cluster fresh, since a stale view of running workloads is a safety
problem for power decisions.
*/
package proxmox
