// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cobaltcore-dev/tenantnet/internal/automation"
	"github.com/cobaltcore-dev/tenantnet/internal/conf"
	"github.com/google/uuid"
	"github.com/sapcc/go-bits/jobloop"
)

var (
	// The controller reported the workflow as failed, or rejected it.
	ErrFailed = errors.New("workflow failed")
	// The workflow did not reach a terminal state within the poll budget.
	// The remote side effect may or may not have happened.
	ErrUnknownOutcome = errors.New("workflow outcome unknown")
)

// Outcome of a workflow call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailed
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeUnknown:
		return "unknown"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// A workflow call against the controller.
type Call struct {
	// Name of the controller workflow.
	Name string
	// Logical object the call provisions or removes, e.g. "vlan:net-1".
	// Two calls on the same object with inverse names and equal
	// identity invert each other.
	Object string
	// Named workflow parameters.
	Params map[string]any
	// Fields naming the provisioned resource, set equally on a create
	// and its delete. Params are compared if unset.
	Identity map[string]any
}

type Result struct {
	Outcome     Outcome
	ExecutionID string
	// Number of status polls performed.
	Polls int
	// Raw body of the last controller response.
	Body []byte
	// Result data of a successful workflow.
	ResultData json.RawMessage
	// Set if the call inverted a fresh successful call in the history,
	// which was then dropped from the history.
	Collapsed bool
}

// Decode the result data of a successful workflow into v.
func (r Result) Decode(v any) error {
	if len(r.ResultData) == 0 {
		return errors.New("workflow returned no result data")
	}
	return json.Unmarshal(r.ResultData, v)
}

// A successful call remembered for collapsing.
type entry struct {
	name     string
	object   string
	identity []byte
	at       time.Time
}

// Successful calls remembered per tenant.
const historySize = 2

// Issues workflow calls to the controller and polls them to completion.
type Engine struct {
	client automation.Client
	conf   conf.WorkflowConfig
	// Workflow name to the name of its inverse workflow.
	inverses map[string]string
	monitor  Monitor
	// Allows tests to skip waiting.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewEngine(client automation.Client, c conf.WorkflowConfig, inverses map[string]string, m Monitor) *Engine {
	return &Engine{
		client:   client,
		conf:     c,
		inverses: inverses,
		monitor:  m,
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// Build the symmetric inverse table from create/delete pairs of workflow names.
func Inverses(pairs ...[2]string) map[string]string {
	inverses := make(map[string]string, 2*len(pairs))
	for _, p := range pairs {
		inverses[p[0]] = p[1]
		inverses[p[1]] = p[0]
	}
	return inverses
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Acquire the tenant lock, execute the call and release the lock again.
func (e *Engine) Run(ctx context.Context, r *Registry, tenant string, call Call) (Result, error) {
	h, err := r.Acquire(ctx, tenant)
	if err != nil {
		return Result{}, err
	}
	defer h.Release()
	return e.Execute(ctx, h, call)
}

// Execute the call for the tenant held by h and poll it to a terminal state.
func (e *Engine) Execute(ctx context.Context, h *Handle, call Call) (Result, error) {
	start := e.now()
	requestID := uuid.New().String()
	log := slog.With("tenant", h.tenant, "workflow", call.Name, "object", call.Object, "requestID", requestID)
	ctx = automation.WithRequestID(ctx, requestID)

	identity := any(call.Params)
	if call.Identity != nil {
		identity = call.Identity
	}
	identityJSON, err := json.Marshal(identity)
	if err != nil {
		return Result{Outcome: OutcomeFailed}, fmt.Errorf("failed to marshal identity of %s: %w", call.Name, err)
	}

	log.Info("workflow: executing")
	res, err := e.run(ctx, log, call)
	e.monitor.observe(call.Name, res, start)
	if err != nil {
		log.Error("workflow: call did not succeed", "outcome", res.Outcome, "polls", res.Polls, "error", err)
		return res, err
	}
	res.Collapsed = e.record(h.state, call, identityJSON)
	if res.Collapsed {
		e.monitor.countCollapse(call.Name)
	}
	log.Info("workflow: succeeded", "executionID", res.ExecutionID, "polls", res.Polls, "collapsed", res.Collapsed)
	return res, nil
}

func (e *Engine) run(ctx context.Context, log *slog.Logger, call Call) (Result, error) {
	exec, err := e.client.ExecuteWorkflow(ctx, call.Name, call.Params)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Body: exec.Body}, fmt.Errorf("%w: %s: %w", ErrFailed, call.Name, err)
	}
	res := Result{ExecutionID: exec.ID, Body: exec.Body}
	log = log.With("executionID", exec.ID)

	wait := e.conf.FirstWait()
	for res.Polls < e.conf.MaxPolls {
		if err := e.sleep(ctx, jobloop.DefaultJitter(wait)); err != nil {
			res.Outcome = OutcomeUnknown
			return res, fmt.Errorf("%w: %s: %w", ErrUnknownOutcome, call.Name, err)
		}
		wait = e.conf.Interval()
		res.Polls++
		instance, err := e.client.WorkflowStatus(ctx, exec.ID)
		if err != nil {
			// The job may still finish, keep polling.
			log.Warn("workflow: failed to fetch status", "poll", res.Polls, "error", err)
			continue
		}
		res.Body = instance.Body
		switch instance.Status {
		case automation.StatusSuccess:
			res.Outcome = OutcomeSuccess
			res.ResultData = instance.ResultData
			return res, nil
		case automation.StatusFailed:
			res.Outcome = OutcomeFailed
			return res, fmt.Errorf("%w: %s: %s", ErrFailed, call.Name, bytes.TrimSpace(instance.Body))
		default:
			log.Debug("workflow: still running", "poll", res.Polls, "status", instance.Status)
		}
	}
	res.Outcome = OutcomeUnknown
	return res, fmt.Errorf("%w: %s after %d polls", ErrUnknownOutcome, call.Name, res.Polls)
}

// Remember a successful call. If it inverts a fresh entry of the
// history, drop that entry instead and report the collapse.
func (e *Engine) record(st *tenantState, call Call, identity []byte) bool {
	now := e.now()
	inverse, hasInverse := e.inverses[call.Name]
	if hasInverse {
		for i := len(st.history) - 1; i >= 0; i-- {
			prev := st.history[i]
			if now.Sub(prev.at) > e.conf.HistoryFreshness() {
				continue
			}
			if prev.name == inverse && prev.object == call.Object && bytes.Equal(prev.identity, identity) {
				st.history = append(st.history[:i], st.history[i+1:]...)
				return true
			}
		}
	}
	st.history = append(st.history, entry{name: call.Name, object: call.Object, identity: identity, at: now})
	if len(st.history) > historySize {
		st.history = st.history[len(st.history)-historySize:]
	}
	return false
}
