// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
)

// Check if the configuration is valid.
func (c *config) Validate() error {
	switch c.DBConfig.Driver {
	case "sqlite":
		if c.DBConfig.Path == "" {
			return errors.New("db: sqlite driver requires a path")
		}
	case "postgres":
		if c.DBConfig.Host == "" || c.DBConfig.Database == "" {
			return errors.New("db: postgres driver requires host and database")
		}
	default:
		return fmt.Errorf("db: unsupported driver %q", c.DBConfig.Driver)
	}
	if c.ControllerConfig.URL == "" {
		return errors.New("controller: url is required")
	}
	if _, err := url.ParseRequestURI(c.ControllerConfig.URL); err != nil {
		return fmt.Errorf("controller: invalid url: %w", err)
	}
	if c.ControllerConfig.RequestTimeoutSeconds <= 0 {
		return errors.New("controller: requestTimeoutSeconds must be positive")
	}
	// Every provisioning step needs a workflow to run.
	workflows := reflect.ValueOf(c.ControllerConfig.Workflows)
	for i := range workflows.NumField() {
		if workflows.Field(i).String() == "" {
			return fmt.Errorf(
				"controller: workflow name for %s is empty",
				workflows.Type().Field(i).Name,
			)
		}
	}
	if c.WorkflowConfig.FirstWaitSeconds < 0 || c.WorkflowConfig.IntervalSeconds <= 0 {
		return errors.New("workflow: poll intervals must be positive")
	}
	if c.WorkflowConfig.MaxPolls <= 0 {
		return errors.New("workflow: maxPolls must be positive")
	}
	if c.AllocatorConfig.MaxIndex <= 0 {
		return errors.New("allocator: maxIndex must be positive")
	}
	if c.NeutronConfig.RetryIntervalSeconds <= 0 {
		return errors.New("neutron: retryIntervalSeconds must be positive")
	}
	return nil
}
