// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cobaltcore-dev/tenantnet/internal/bindings"
	"github.com/cobaltcore-dev/tenantnet/internal/orchestrator"
)

type bindingRequest struct {
	ControllerTenant string            `json:"controller_tenant"`
	Bindings         map[string]string `json:"bindings"`
}

func (req bindingRequest) record(tenantID string) bindings.Record {
	if len(req.Bindings) == 0 {
		return bindings.NewRecord(tenantID, req.ControllerTenant)
	}
	return bindings.ParseRecord(tenantID, req.ControllerTenant, req.Bindings)
}

func (httpAPI *httpAPI) GetBinding(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	rec, err := httpAPI.orchestrator.Binding(r.Context(), r.PathValue("tenant"))
	if err != nil {
		h.failOrchestration(err)
		return
	}
	h.respond(http.StatusOK, newBindingResponse(rec))
}

func (httpAPI *httpAPI) AddBinding(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	var req bindingRequest
	if !h.decode(&req) {
		return
	}
	if req.ControllerTenant == "" {
		req.ControllerTenant = r.URL.Query().Get("controller_tenant")
	}
	rec := req.record(r.PathValue("tenant"))
	ok, err := httpAPI.orchestrator.AddBinding(r.Context(), rec)
	if err != nil {
		h.failOrchestration(err)
		return
	}
	if !ok {
		h.fail(http.StatusConflict, errors.New("binding exists"), "tenant already has a binding")
		return
	}
	h.respond(http.StatusCreated, newBindingResponse(rec))
}

func (httpAPI *httpAPI) SetBinding(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	var req bindingRequest
	if !h.decode(&req) {
		return
	}
	rec := req.record(r.PathValue("tenant"))
	ok, err := httpAPI.orchestrator.SetBinding(r.Context(), rec)
	if err != nil {
		h.failOrchestration(err)
		return
	}
	if !ok {
		h.fail(http.StatusNotFound, errors.New("binding missing"), "tenant has no binding")
		return
	}
	h.respond(http.StatusOK, newBindingResponse(rec))
}

func (httpAPI *httpAPI) DeleteBinding(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	ok, err := httpAPI.orchestrator.DeleteBinding(r.Context(), r.PathValue("tenant"))
	if err != nil {
		h.failOrchestration(err)
		return
	}
	if !ok {
		h.fail(http.StatusNotFound, errors.New("binding missing"), "tenant has no binding")
		return
	}
	h.respond(http.StatusNoContent, nil)
}

type allocateRequest struct {
	Kind string `json:"kind"`
}

type allocateResponse struct {
	ID int `json:"id"`
	// False if the pool is exhausted.
	Result bool `json:"result"`
}

func (httpAPI *httpAPI) AllocateID(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	var req allocateRequest
	if !h.decode(&req) {
		return
	}
	id, ok, err := httpAPI.allocator.Allocate(r.Context(), r.PathValue("instance"), req.Kind)
	if err != nil {
		h.fail(http.StatusInternalServerError, err, "failed to allocate id")
		return
	}
	h.respond(http.StatusOK, allocateResponse{ID: id, Result: ok})
}

type releaseRequest struct {
	IDs []int `json:"ids"`
}

type releaseResponse struct {
	Released int `json:"released"`
}

func (httpAPI *httpAPI) ReleaseIDs(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	var req releaseRequest
	if !h.decode(&req) {
		return
	}
	n, err := httpAPI.allocator.ReleaseMany(r.Context(), r.PathValue("instance"), req.IDs)
	if err != nil {
		h.fail(http.StatusInternalServerError, err, "failed to release ids")
		return
	}
	h.respond(http.StatusOK, releaseResponse{Released: n})
}

// Respond with the record of a finished orchestration.
func (h httpAPIhelper) orchestrated(rec bindings.Record, err error) {
	if err != nil {
		h.failOrchestration(err)
		return
	}
	h.respond(http.StatusOK, newBindingResponse(rec))
}

func (httpAPI *httpAPI) AttachDevice(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	var req orchestrator.DeviceRequest
	if !h.decode(&req) {
		return
	}
	req.TenantID = r.PathValue("tenant")
	h.orchestrated(httpAPI.orchestrator.AttachDevice(r.Context(), req))
}

func (httpAPI *httpAPI) DetachDevice(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	var req orchestrator.DeviceRequest
	if !h.decode(&req) {
		return
	}
	h.orchestrated(httpAPI.orchestrator.DetachDevice(r.Context(), r.PathValue("tenant"), req.DeviceID, req.NetworkID))
}

type moveRequest struct {
	orchestrator.InterfaceRequest
	FromNetworkID string `json:"from_network"`
}

func (httpAPI *httpAPI) AddFirewallInterface(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	var req orchestrator.InterfaceRequest
	if !h.decode(&req) {
		return
	}
	req.TenantID, req.Firewall = r.PathValue("tenant"), r.PathValue("suffix")
	h.orchestrated(httpAPI.orchestrator.AddFirewallInterface(r.Context(), req))
}

func (httpAPI *httpAPI) RemoveFirewallInterface(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	var req orchestrator.InterfaceRequest
	if !h.decode(&req) {
		return
	}
	h.orchestrated(httpAPI.orchestrator.RemoveFirewallInterface(
		r.Context(), r.PathValue("tenant"), r.PathValue("suffix"), req.PortID, req.NetworkID,
	))
}

func (httpAPI *httpAPI) MoveFirewallInterface(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	var req moveRequest
	if !h.decode(&req) {
		return
	}
	req.TenantID, req.Firewall = r.PathValue("tenant"), r.PathValue("suffix")
	h.orchestrated(httpAPI.orchestrator.MoveFirewallInterface(r.Context(), req.InterfaceRequest, req.FromNetworkID))
}

func (httpAPI *httpAPI) AddVIP(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	var req orchestrator.VIPRequest
	if !h.decode(&req) {
		return
	}
	req.TenantID, req.Type = r.PathValue("tenant"), r.PathValue("type")
	h.orchestrated(httpAPI.orchestrator.AddVIP(r.Context(), req))
}

func (httpAPI *httpAPI) RemoveVIP(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	var req orchestrator.VIPRequest
	if !h.decode(&req) {
		return
	}
	h.orchestrated(httpAPI.orchestrator.RemoveVIP(
		r.Context(), r.PathValue("tenant"), r.PathValue("type"), req.VIPID, req.NetworkID,
	))
}

func (httpAPI *httpAPI) CreateNAT(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	var req orchestrator.NATRequest
	if !h.decode(&req) {
		return
	}
	req.TenantID = r.PathValue("tenant")
	h.orchestrated(httpAPI.orchestrator.CreateNAT(r.Context(), req))
}

func (httpAPI *httpAPI) DeleteNAT(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	var req orchestrator.NATRequest
	if !h.decode(&req) {
		return
	}
	h.orchestrated(httpAPI.orchestrator.DeleteNAT(r.Context(), r.PathValue("tenant"), req.ID))
}

func (httpAPI *httpAPI) SetPolicy(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	var req orchestrator.PolicyRequest
	if !h.decode(&req) {
		return
	}
	req.TenantID = r.PathValue("tenant")
	req.Type = bindings.PolicyType(r.PathValue("type"))
	req.ID = r.PathValue("id")
	h.orchestrated(httpAPI.orchestrator.SetPolicy(r.Context(), req))
}

func (httpAPI *httpAPI) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	h.orchestrated(httpAPI.orchestrator.DeletePolicy(
		r.Context(), r.PathValue("tenant"), bindings.PolicyType(r.PathValue("type")), r.PathValue("id"),
	))
}

// Pass the controller inventory through as it is.
func (h httpAPIhelper) inventory(data json.RawMessage, err error, what string) {
	if err != nil {
		h.fail(http.StatusBadGateway, err, fmt.Sprintf("failed to fetch %s from controller", what))
		return
	}
	h.respond(http.StatusOK, data)
}

func (httpAPI *httpAPI) ReservedResource(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	data, err := httpAPI.controller.ReservedResource(r.Context(), r.PathValue("id"))
	h.inventory(data, err, "reserved resource")
}

func (httpAPI *httpAPI) ResourceGroups(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	data, err := httpAPI.controller.ResourceGroups(r.Context())
	h.inventory(data, err, "resource groups")
}

func (httpAPI *httpAPI) ResourceGroup(w http.ResponseWriter, r *http.Request) {
	h := httpAPI.newHelper(w, r)
	data, err := httpAPI.controller.ResourceGroup(r.Context(), r.PathValue("group"))
	h.inventory(data, err, "resource group")
}
