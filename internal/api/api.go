// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cobaltcore-dev/tenantnet/internal/allocator"
	"github.com/cobaltcore-dev/tenantnet/internal/automation"
	"github.com/cobaltcore-dev/tenantnet/internal/bindings"
	"github.com/cobaltcore-dev/tenantnet/internal/conf"
	"github.com/cobaltcore-dev/tenantnet/internal/orchestrator"
	"github.com/cobaltcore-dev/tenantnet/internal/workflow"
)

// Operations of the orchestrator exposed over http.
type Orchestrator interface {
	Binding(ctx context.Context, tenantID string) (bindings.Record, error)
	AddBinding(ctx context.Context, rec bindings.Record) (bool, error)
	SetBinding(ctx context.Context, rec bindings.Record) (bool, error)
	DeleteBinding(ctx context.Context, tenantID string) (bool, error)

	AttachDevice(ctx context.Context, req orchestrator.DeviceRequest) (bindings.Record, error)
	DetachDevice(ctx context.Context, tenantID, deviceID, networkID string) (bindings.Record, error)
	AddFirewallInterface(ctx context.Context, req orchestrator.InterfaceRequest) (bindings.Record, error)
	RemoveFirewallInterface(ctx context.Context, tenantID, suffix, portID, networkID string) (bindings.Record, error)
	MoveFirewallInterface(ctx context.Context, req orchestrator.InterfaceRequest, fromNetworkID string) (bindings.Record, error)
	AddVIP(ctx context.Context, req orchestrator.VIPRequest) (bindings.Record, error)
	RemoveVIP(ctx context.Context, tenantID, lbType, vipID, networkID string) (bindings.Record, error)
	CreateNAT(ctx context.Context, req orchestrator.NATRequest) (bindings.Record, error)
	DeleteNAT(ctx context.Context, tenantID, id string) (bindings.Record, error)
	SetPolicy(ctx context.Context, req orchestrator.PolicyRequest) (bindings.Record, error)
	DeletePolicy(ctx context.Context, tenantID string, policyType bindings.PolicyType, id string) (bindings.Record, error)
}

type HTTPAPI interface {
	// Bind the server handlers.
	Init(*http.ServeMux)
}

type httpAPI struct {
	orchestrator Orchestrator
	allocator    allocator.Allocator
	controller   automation.Client
	config       conf.APIConfig
	monitor      Monitor
}

func NewAPI(config conf.APIConfig, o Orchestrator, a allocator.Allocator, c automation.Client, m Monitor) HTTPAPI {
	return &httpAPI{
		orchestrator: o,
		allocator:    a,
		controller:   c,
		config:       config,
		monitor:      m,
	}
}

// Init the API mux and bind the handlers.
func (httpAPI *httpAPI) Init(mux *http.ServeMux) {
	routes := map[string]http.HandlerFunc{
		"GET /up": httpAPI.Up,

		"GET /v1/tenants/{tenant}/binding":    httpAPI.GetBinding,
		"POST /v1/tenants/{tenant}/binding":   httpAPI.AddBinding,
		"PUT /v1/tenants/{tenant}/binding":    httpAPI.SetBinding,
		"DELETE /v1/tenants/{tenant}/binding": httpAPI.DeleteBinding,

		"POST /v1/firewalls/{instance}/ids":         httpAPI.AllocateID,
		"POST /v1/firewalls/{instance}/ids/release": httpAPI.ReleaseIDs,

		"POST /v1/tenants/{tenant}/devices":   httpAPI.AttachDevice,
		"DELETE /v1/tenants/{tenant}/devices": httpAPI.DetachDevice,

		"POST /v1/tenants/{tenant}/firewalls/{suffix}/interfaces":   httpAPI.AddFirewallInterface,
		"DELETE /v1/tenants/{tenant}/firewalls/{suffix}/interfaces": httpAPI.RemoveFirewallInterface,
		"PATCH /v1/tenants/{tenant}/firewalls/{suffix}/interfaces":  httpAPI.MoveFirewallInterface,

		"POST /v1/tenants/{tenant}/loadbalancers/{type}/vips":   httpAPI.AddVIP,
		"DELETE /v1/tenants/{tenant}/loadbalancers/{type}/vips": httpAPI.RemoveVIP,

		"POST /v1/tenants/{tenant}/nats":   httpAPI.CreateNAT,
		"DELETE /v1/tenants/{tenant}/nats": httpAPI.DeleteNAT,

		"PUT /v1/tenants/{tenant}/policies/{type}/{id}":    httpAPI.SetPolicy,
		"DELETE /v1/tenants/{tenant}/policies/{type}/{id}": httpAPI.DeletePolicy,

		"GET /v1/inventory/reserved/{id}":  httpAPI.ReservedResource,
		"GET /v1/inventory/groups":         httpAPI.ResourceGroups,
		"GET /v1/inventory/groups/{group}": httpAPI.ResourceGroup,
	}
	for pattern, handler := range routes {
		mux.HandleFunc(pattern, handler)
	}
}

// Helper to respond to the request with the given code and error.
// Also adds monitoring for the time it took to handle the request.
type httpAPIhelper struct {
	httpAPI *httpAPI
	w       http.ResponseWriter
	r       *http.Request
	t       time.Time
}

func (httpAPI *httpAPI) newHelper(w http.ResponseWriter, r *http.Request) httpAPIhelper {
	return httpAPIhelper{httpAPI: httpAPI, w: w, r: r, t: time.Now()}
}

func (h httpAPIhelper) observe(code int) {
	if h.httpAPI.monitor.apiRequestsTimer == nil {
		return
	}
	h.httpAPI.monitor.apiRequestsTimer.
		WithLabelValues(h.r.Method, h.r.Pattern, strconv.Itoa(code)).
		Observe(time.Since(h.t).Seconds())
}

// Respond with the given code and json body.
func (h httpAPIhelper) respond(code int, body any) {
	h.observe(code)
	h.w.Header().Set("Content-Type", "application/json")
	h.w.WriteHeader(code)
	if body == nil {
		return
	}
	if err := json.NewEncoder(h.w).Encode(body); err != nil {
		slog.Error("api: failed to encode response", "path", h.r.URL.Path, "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// Respond with the given code and error. The text faces the caller,
// the error is only logged.
func (h httpAPIhelper) fail(code int, err error, text string) {
	slog.Error("api: failed to handle request",
		"method", h.r.Method, "path", h.r.URL.Path, "status", code, "error", err)
	h.respond(code, errorResponse{Error: text})
}

// Respond with the status matching the error of an orchestration.
func (h httpAPIhelper) failOrchestration(err error) {
	var driverErr *orchestrator.DriverError
	switch {
	case errors.As(err, &driverErr):
		code := http.StatusConflict
		switch {
		case errors.Is(err, orchestrator.ErrNotFound):
			code = http.StatusNotFound
		case errors.Is(err, orchestrator.ErrInvalidRequest):
			code = http.StatusBadRequest
		}
		h.fail(code, err, driverErr.Error())
	case errors.Is(err, workflow.ErrFailed), errors.Is(err, workflow.ErrUnknownOutcome):
		h.fail(http.StatusBadGateway, err, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.fail(http.StatusServiceUnavailable, err, "request cancelled")
	default:
		h.fail(http.StatusInternalServerError, err, "internal error")
	}
}

// Decode the json request body into v. Responds on failure.
func (h httpAPIhelper) decode(v any) bool {
	defer h.r.Body.Close()
	body, err := io.ReadAll(h.r.Body)
	if err != nil {
		h.fail(http.StatusBadRequest, err, "failed to read request body")
		return false
	}
	// If configured, log out the complete request body.
	if h.httpAPI.config.LogRequestBodies {
		slog.Info("api: request body", "path", h.r.URL.Path, "body", string(body))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		h.fail(http.StatusBadRequest, err, "failed to decode request body")
		return false
	}
	return true
}

// Flattened binding record as returned to the framework.
type bindingResponse struct {
	Tenant           string            `json:"tenant"`
	ControllerTenant string            `json:"controller_tenant"`
	Bindings         map[string]string `json:"bindings"`
}

func newBindingResponse(rec bindings.Record) bindingResponse {
	return bindingResponse{
		Tenant:           rec.TenantID,
		ControllerTenant: rec.ControllerTenantID,
		Bindings:         rec.Flatten(),
	}
}

// Report that the api is up.
func (httpAPI *httpAPI) Up(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	h.respond(http.StatusOK, map[string]string{"status": "ok"})
}
