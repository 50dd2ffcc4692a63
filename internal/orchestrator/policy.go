// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"maps"
	"reflect"
	"slices"

	"github.com/cobaltcore-dev/tenantnet/internal/bindings"
	"github.com/cobaltcore-dev/tenantnet/internal/mqtt"
)

const kindPolicy = "policy"

// A firewall or load balancer policy object.
type PolicyRequest struct {
	TenantID           string              `json:"-"`
	ControllerTenantID string              `json:"controller_tenant"`
	Type               bindings.PolicyType `json:"-"`
	ID                 string              `json:"-"`
	// The policy object as supplied by the framework.
	Body json.RawMessage `json:"body"`
}

func policyObject(key bindings.PolicyKey) string {
	return kindPolicy + ":" + string(key.Type) + "." + key.ID
}

func policyIdentity(key bindings.PolicyKey) map[string]any {
	return map[string]any{"type": string(key.Type), "id": key.ID}
}

// Compact the body so that formatting differences do not count as changes.
func canonicalBody(body json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Top-level fields whose values differ between two json objects, sorted.
// Bodies that are not objects count as a single change of "".
func changedFields(previous, current string) []string {
	var prev, curr map[string]json.RawMessage
	if json.Unmarshal([]byte(previous), &prev) != nil || json.Unmarshal([]byte(current), &curr) != nil {
		return []string{""}
	}
	changed := map[string]struct{}{}
	for field, value := range curr {
		if old, ok := prev[field]; !ok || !jsonEqual(old, value) {
			changed[field] = struct{}{}
		}
	}
	for field := range prev {
		if _, ok := curr[field]; !ok {
			changed[field] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(changed))
}

func jsonEqual(a, b json.RawMessage) bool {
	var x, y any
	if json.Unmarshal(a, &x) != nil || json.Unmarshal(b, &y) != nil {
		return bytes.Equal(a, b)
	}
	return reflect.DeepEqual(x, y)
}

// Create or update a policy. The serialized body is kept in the
// binding so that the next update can be diffed against it.
func (o *Orchestrator) SetPolicy(ctx context.Context, req PolicyRequest) (rec bindings.Record, err error) {
	const name = "set_policy"
	if !req.Type.Valid() {
		return bindings.Record{}, driverError(name, ErrInvalidRequest, "unknown policy type %q", req.Type)
	}
	if req.ID == "" {
		return bindings.Record{}, driverError(name, ErrInvalidRequest, "policy id is required")
	}
	body, err := canonicalBody(req.Body)
	if err != nil {
		return bindings.Record{}, driverError(name, ErrInvalidRequest, "policy body is not valid json: %v", err)
	}
	p, err := o.begin(ctx, name, req.TenantID)
	if err != nil {
		return bindings.Record{}, err
	}
	defer func() { o.end(p, err) }()

	key := bindings.PolicyKey{Type: req.Type, ID: req.ID}
	previous, exists := p.rec.Policies[key]
	if exists && previous == body {
		return p.rec, nil
	}
	if err := o.ensureRecord(ctx, p, req.ControllerTenantID); err != nil {
		return bindings.Record{}, err
	}
	if err := o.ensureTenant(ctx, p); err != nil {
		return bindings.Record{}, err
	}
	params := map[string]any{
		"type":    string(req.Type),
		"id":      req.ID,
		"current": json.RawMessage(body),
	}
	action, workflowName := mqtt.ActionCreated, o.workflows.PolicyCreate
	if exists {
		action, workflowName = mqtt.ActionUpdated, o.workflows.PolicyUpdate
		params["previous"] = json.RawMessage(previous)
		params["changed"] = changedFields(previous, body)
	}
	if _, err := o.call(ctx, p, workflowName, policyObject(key), policyIdentity(key), params); err != nil {
		return bindings.Record{}, err
	}
	p.rec.Policies[key] = body
	if err := o.save(ctx, p); err != nil {
		return bindings.Record{}, err
	}
	o.publish(p, kindPolicy, action, policyObject(key))
	return p.rec, nil
}

// Delete a policy and release the tenant if nothing else is left.
func (o *Orchestrator) DeletePolicy(ctx context.Context, tenantID string, policyType bindings.PolicyType, id string) (rec bindings.Record, err error) {
	p, err := o.begin(ctx, "delete_policy", tenantID)
	if err != nil {
		return bindings.Record{}, err
	}
	defer func() { o.end(p, err) }()
	if err := o.requireRecord(p); err != nil {
		return bindings.Record{}, err
	}
	key := bindings.PolicyKey{Type: policyType, ID: id}
	body, ok := p.rec.Policies[key]
	if !ok {
		return bindings.Record{}, driverError(p.name, ErrNotFound, "policy %s %s does not exist", policyType, id)
	}
	_, err = o.call(ctx, p, o.workflows.PolicyDelete, policyObject(key), policyIdentity(key), map[string]any{
		"type":     string(policyType),
		"id":       id,
		"previous": json.RawMessage(body),
	})
	if err != nil {
		return bindings.Record{}, err
	}
	delete(p.rec.Policies, key)
	if err := o.save(ctx, p); err != nil {
		return bindings.Record{}, err
	}
	o.publish(p, kindPolicy, mqtt.ActionDeleted, policyObject(key))
	if err := o.releaseTenant(ctx, p); err != nil {
		return bindings.Record{}, err
	}
	return p.rec, nil
}
