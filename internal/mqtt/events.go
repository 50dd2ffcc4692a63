// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package mqtt

import "time"

// Topics are named after the resource kind, e.g. tenantnet/events/vlan.
const topicPrefix = "tenantnet/events/"

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// Change of remote state caused by an orchestration operation.
type Event struct {
	Tenant string `json:"tenant"`
	// Resource kind, e.g. "vlan" or "firewall".
	Kind   string `json:"kind"`
	Action Action `json:"action"`
	// Identifier of the resource within the tenant.
	Resource string    `json:"resource"`
	Time     time.Time `json:"time"`
}

func (e Event) Topic() string { return topicPrefix + e.Kind }

// Publish the event on its topic.
func PublishEvent(p Publisher, e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	p.Publish(e.Topic(), e)
}
