package proxmox

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pvetools/pvepower/pkg/types"
)

// ClientConfig holds the connection settings for a Proxmox VE cluster
type ClientConfig struct {
	// Host is the cluster endpoint, e.g. "pve01.example.com:8006"
	Host string
	// User is the API token owner, e.g. "root@pam"
	User string
	// TokenName and TokenValue form the API token credential
	TokenName  string
	TokenValue string
	// VerifyTLS disables certificate verification when false (self-signed
	// cluster certificates are the common case on home lab clusters)
	VerifyTLS bool
	// Timeout bounds every single API request
	Timeout time.Duration
}

// Client talks to the Proxmox VE REST API using token authentication. It is
// safe for concurrent use.
type Client struct {
	baseURL    string
	authHeader string
	http       *http.Client
}

// NewClient creates a Proxmox API client
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{}
	if !cfg.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		baseURL:    fmt.Sprintf("https://%s/api2/json", cfg.Host),
		authHeader: fmt.Sprintf("PVEAPIToken=%s!%s=%s", cfg.User, cfg.TokenName, cfg.TokenValue),
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

type nodeEntry struct {
	Node   string `json:"node"`
	Status string `json:"status"`
	Uptime int64  `json:"uptime"`
}

type workloadEntry struct {
	VMID   json.Number `json:"vmid"`
	Name   string      `json:"name"`
	Status string      `json:"status"`
}

type workloadConfig struct {
	Tags string `json:"tags"`
}

type nodeStatus struct {
	Uptime int64 `json:"uptime"`
}

// ListNodes returns all cluster nodes
func (c *Client) ListNodes(ctx context.Context) ([]types.Node, error) {
	var entries []nodeEntry
	if err := c.get(ctx, "/nodes", &entries); err != nil {
		return nil, err
	}

	nodes := make([]types.Node, 0, len(entries))
	for _, e := range entries {
		nodes = append(nodes, types.Node{
			Name:   e.Node,
			State:  nodePowerState(e.Status),
			Uptime: time.Duration(e.Uptime) * time.Second,
		})
	}
	return nodes, nil
}

// ListWorkloads returns all VMs and containers on a node
func (c *Client) ListWorkloads(ctx context.Context, node string) ([]types.Workload, error) {
	var workloads []types.Workload

	var vms []workloadEntry
	if err := c.get(ctx, fmt.Sprintf("/nodes/%s/qemu", node), &vms); err != nil {
		return nil, fmt.Errorf("failed to list VMs on %s: %w", node, err)
	}
	for _, e := range vms {
		w, err := e.toWorkload(node, types.KindVM)
		if err != nil {
			return nil, err
		}
		workloads = append(workloads, w)
	}

	var containers []workloadEntry
	if err := c.get(ctx, fmt.Sprintf("/nodes/%s/lxc", node), &containers); err != nil {
		return nil, fmt.Errorf("failed to list containers on %s: %w", node, err)
	}
	for _, e := range containers {
		w, err := e.toWorkload(node, types.KindContainer)
		if err != nil {
			return nil, err
		}
		workloads = append(workloads, w)
	}

	return workloads, nil
}

// GetTags returns the tag set of a workload. Proxmox stores tags as a
// semicolon-separated string on the workload config.
func (c *Client) GetTags(ctx context.Context, node string, id int, kind types.WorkloadKind) ([]string, error) {
	var cfg workloadConfig
	if err := c.get(ctx, c.configPath(node, id, kind), &cfg); err != nil {
		return nil, err
	}
	return splitTags(cfg.Tags), nil
}

// SetTags replaces the tag set of a workload
func (c *Client) SetTags(ctx context.Context, node string, id int, kind types.WorkloadKind, tags []string) error {
	form := url.Values{"tags": {strings.Join(tags, ";")}}
	return c.send(ctx, http.MethodPut, c.configPath(node, id, kind), form, nil)
}

// PowerOffWorkload requests a graceful shutdown of a workload
func (c *Client) PowerOffWorkload(ctx context.Context, node string, id int, kind types.WorkloadKind, timeout time.Duration) error {
	form := url.Values{}
	if timeout > 0 {
		form.Set("timeout", strconv.Itoa(int(timeout.Seconds())))
	}
	path := fmt.Sprintf("%s/status/shutdown", c.workloadPath(node, id, kind))
	return c.send(ctx, http.MethodPost, path, form, nil)
}

// PowerOffNode requests a shutdown of the node itself
func (c *Client) PowerOffNode(ctx context.Context, node string) error {
	form := url.Values{"command": {"shutdown"}}
	return c.send(ctx, http.MethodPost, fmt.Sprintf("/nodes/%s/status", node), form, nil)
}

// NodeUptime returns how long the node has been up
func (c *Client) NodeUptime(ctx context.Context, node string) (time.Duration, error) {
	var status nodeStatus
	if err := c.get(ctx, fmt.Sprintf("/nodes/%s/status", node), &status); err != nil {
		return 0, err
	}
	return time.Duration(status.Uptime) * time.Second, nil
}

func (c *Client) workloadPath(node string, id int, kind types.WorkloadKind) string {
	if kind == types.KindContainer {
		return fmt.Sprintf("/nodes/%s/lxc/%d", node, id)
	}
	return fmt.Sprintf("/nodes/%s/qemu/%d", node, id)
}

func (c *Client) configPath(node string, id int, kind types.WorkloadKind) string {
	return fmt.Sprintf("%s/config", c.workloadPath(node, id, kind))
}

// get performs a GET request and decodes the "data" envelope into out
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.send(ctx, http.MethodGet, path, nil, out)
}

// send performs an API request. Every Proxmox response wraps its payload in
// a {"data": ...} envelope.
func (c *Client) send(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	var body io.Reader
	if len(form) > 0 {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s returned %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", path, err)
	}
	return nil
}

func (e workloadEntry) toWorkload(node string, kind types.WorkloadKind) (types.Workload, error) {
	id, err := e.VMID.Int64()
	if err != nil {
		return types.Workload{}, fmt.Errorf("invalid vmid %q on %s: %w", e.VMID.String(), node, err)
	}
	return types.Workload{
		ID:    int(id),
		Name:  e.Name,
		Node:  node,
		Kind:  kind,
		State: workloadPowerState(e.Status),
	}, nil
}

func nodePowerState(status string) types.PowerState {
	switch status {
	case "online":
		return types.PowerStateRunning
	case "offline":
		return types.PowerStateStopped
	default:
		return types.PowerStateUnknown
	}
}

func workloadPowerState(status string) types.PowerState {
	switch status {
	case "running":
		return types.PowerStateRunning
	case "stopped":
		return types.PowerStateStopped
	default:
		return types.PowerStateUnknown
	}
}

// splitTags parses Proxmox's semicolon-separated tag string
func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.Split(raw, ";") {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
