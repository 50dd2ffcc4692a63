// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package automation

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cobaltcore-dev/tenantnet/internal/conf"
)

// Headers of the signed-header authentication scheme.
const (
	HeaderTimestamp = "X-Auth-Timestamp"
	HeaderSignature = "X-Auth-Signature"
	HeaderUser      = "X-Auth-User"
	HeaderRequestID = "X-Request-Id"
)

// Workflow statuses reported by the controller.
const (
	StatusRunning = "RUNNING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Returned for any non-2xx response of the controller.
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("controller returned status %d: %s", e.Code, strings.TrimSpace(string(e.Body)))
}

// A started workflow execution.
type Execution struct {
	ID string `json:"executionid"`
	// Raw response of the execute call.
	Body []byte `json:"-"`
}

// State of a workflow execution as reported by the controller.
type Instance struct {
	Status     string          `json:"status"`
	ResultData json.RawMessage `json:"resultdata,omitempty"`
	Progress   json.RawMessage `json:"progress,omitempty"`
	// Raw response of the status call.
	Body []byte `json:"-"`
}

// Client for the network-automation controller.
type Client interface {
	// Start the named workflow with the given parameters.
	ExecuteWorkflow(ctx context.Context, name string, params map[string]any) (Execution, error)
	// Fetch the state of a started workflow.
	WorkflowStatus(ctx context.Context, executionID string) (Instance, error)
	// Create the tenant on the controller (synchronous).
	CreateTenant(ctx context.Context, id, name string) error
	// Delete the tenant from the controller (synchronous).
	DeleteTenant(ctx context.Context, id string) error
	// Reserved datacenter resource by id.
	ReservedResource(ctx context.Context, id string) (json.RawMessage, error)
	// All datacenter resource groups.
	ResourceGroups(ctx context.Context) (json.RawMessage, error)
	// One datacenter resource group by name.
	ResourceGroup(ctx context.Context, name string) (json.RawMessage, error)
}

type client struct {
	conf       conf.ControllerConfig
	baseURL    *url.URL
	httpClient *http.Client
	monitor    Monitor
	// Allows tests to control time.
	now func() time.Time
}

// Create a new controller client from the given config.
func NewClient(c conf.ControllerConfig, m Monitor) (Client, error) {
	u, err := url.Parse(strings.TrimSuffix(c.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid controller url: %w", err)
	}
	return &client{
		conf:       c,
		baseURL:    u,
		httpClient: &http.Client{Timeout: c.RequestTimeout()},
		monitor:    m,
		now:        time.Now,
	}, nil
}

// Compute the signature of a request: hex(HMAC-SHA256(secret, timestamp + path)).
func Sign(secret, timestamp, path string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + path))
	return hex.EncodeToString(mac.Sum(nil))
}

// Issue a signed request and return the response body. The path must
// be escaped already. The route is only used as a metric label.
func (c *client) do(ctx context.Context, method, route, path string, body any) ([]byte, error) {
	u := *c.baseURL
	u.RawPath = c.baseURL.EscapedPath() + path
	unescaped, err := url.PathUnescape(u.RawPath)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", path, err)
	}
	u.Path = unescaped
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, Sign(c.conf.Secret, timestamp, u.EscapedPath()))
	req.Header.Set(HeaderUser, c.conf.User)
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		req.Header.Set(HeaderRequestID, id)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.monitor.observe(method, route, "error", start)
		return nil, fmt.Errorf("failed to call controller: %w", err)
	}
	defer resp.Body.Close()
	c.monitor.observe(method, route, strconv.Itoa(resp.StatusCode), start)
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("automation: controller returned error",
			"method", method, "path", u.EscapedPath(), "status", resp.StatusCode)
		return data, &StatusError{Code: resp.StatusCode, Body: data}
	}
	return data, nil
}

func (c *client) ExecuteWorkflow(ctx context.Context, name string, params map[string]any) (Execution, error) {
	if params == nil {
		params = map[string]any{}
	}
	path := "/workflow/" + url.PathEscape(name) + "/execute"
	data, err := c.do(ctx, http.MethodPost, "/workflow/:name/execute", path, params)
	if err != nil {
		return Execution{Body: data}, err
	}
	var e Execution
	if err := json.Unmarshal(data, &e); err != nil {
		return Execution{Body: data}, fmt.Errorf("failed to parse execute response: %w", err)
	}
	if e.ID == "" {
		return Execution{Body: data}, fmt.Errorf("controller returned no execution id for %s", name)
	}
	e.Body = data
	return e, nil
}

func (c *client) WorkflowStatus(ctx context.Context, executionID string) (Instance, error) {
	path := "/workflowinstance/" + url.PathEscape(executionID)
	data, err := c.do(ctx, http.MethodGet, "/workflowinstance/:id", path, nil)
	if err != nil {
		return Instance{Body: data}, err
	}
	var i Instance
	if err := json.Unmarshal(data, &i); err != nil {
		return Instance{Body: data}, fmt.Errorf("failed to parse workflow status: %w", err)
	}
	i.Body = data
	return i, nil
}

func (c *client) CreateTenant(ctx context.Context, id, name string) error {
	body := map[string]any{"name": name}
	_, err := c.do(ctx, http.MethodPost, "/tenant/:id", "/tenant/"+url.PathEscape(id), body)
	return err
}

func (c *client) DeleteTenant(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/tenant/:id", "/tenant/"+url.PathEscape(id), nil)
	return err
}

func (c *client) ReservedResource(ctx context.Context, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/reserveddcresource/:id", "/reserveddcresource/"+url.PathEscape(id), nil)
}

func (c *client) ResourceGroups(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/dcresource/groups", "/dcresource/groups", nil)
}

func (c *client) ResourceGroup(ctx context.Context, name string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/dcresource/groups/:group", "/dcresource/groups/"+url.PathEscape(name), nil)
}

type requestIDKey struct{}

// Attach a request id to the context. It is sent along with every
// controller call made with this context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}
