// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cobaltcore-dev/tenantnet/internal/automation"
	"github.com/cobaltcore-dev/tenantnet/internal/conf"
)

// Controller that reports RUNNING for a number of polls, then a final status.
type fakeClient struct {
	mu         sync.Mutex
	running    int
	final      string
	executeErr error
	executed   []string
	polls      int
}

func (c *fakeClient) ExecuteWorkflow(ctx context.Context, name string, params map[string]any) (automation.Execution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executed = append(c.executed, name)
	if c.executeErr != nil {
		return automation.Execution{Body: []byte("rejected")}, c.executeErr
	}
	return automation.Execution{ID: "exec-" + name}, nil
}

func (c *fakeClient) WorkflowStatus(ctx context.Context, executionID string) (automation.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
	if c.polls <= c.running || c.final == "" {
		return automation.Instance{Status: automation.StatusRunning, Body: []byte(`{"status":"RUNNING"}`)}, nil
	}
	body := `{"status":"` + c.final + `","resultdata":{"vlan":1001}}`
	return automation.Instance{
		Status:     c.final,
		ResultData: json.RawMessage(`{"vlan":1001}`),
		Body:       []byte(body),
	}, nil
}

func (c *fakeClient) CreateTenant(ctx context.Context, id, name string) error { return nil }
func (c *fakeClient) DeleteTenant(ctx context.Context, id string) error       { return nil }
func (c *fakeClient) ReservedResource(ctx context.Context, id string) (json.RawMessage, error) {
	return nil, nil
}
func (c *fakeClient) ResourceGroups(ctx context.Context) (json.RawMessage, error) { return nil, nil }
func (c *fakeClient) ResourceGroup(ctx context.Context, name string) (json.RawMessage, error) {
	return nil, nil
}

var testConf = conf.WorkflowConfig{
	FirstWaitSeconds:        2,
	IntervalSeconds:         5,
	MaxPolls:                10,
	HistoryFreshnessSeconds: 60,
}

func newTestEngine(client automation.Client) (*Engine, *[]time.Duration) {
	e := NewEngine(client, testConf, Inverses([2]string{"create_vlan", "delete_vlan"}), Monitor{})
	var waits []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return e, &waits
}

func TestExecutePollsUntilSuccess(t *testing.T) {
	for _, k := range []int{0, 1, 5, 9} {
		client := &fakeClient{running: k, final: automation.StatusSuccess}
		e, waits := newTestEngine(client)
		res, err := e.Run(t.Context(), NewRegistry(), "t-1", Call{Name: "create_vlan", Object: "vlan:n1"})
		if err != nil {
			t.Fatalf("k=%d: expected success, got %v", k, err)
		}
		if res.Outcome != OutcomeSuccess || res.Polls != k+1 || client.polls != k+1 {
			t.Fatalf("k=%d: expected %d polls, got %+v (client %d)", k, k+1, res, client.polls)
		}
		var data struct{ VLAN int }
		if err := res.Decode(&data); err != nil || data.VLAN != 1001 {
			t.Fatalf("k=%d: unexpected result data %s err=%v", k, res.ResultData, err)
		}
		// First wait, then the fixed interval (with jitter).
		if len(*waits) != k+1 {
			t.Fatalf("k=%d: expected %d waits, got %v", k, k+1, *waits)
		}
		if (*waits)[0] > 3*time.Second {
			t.Errorf("k=%d: expected short first wait, got %v", k, (*waits)[0])
		}
		for _, w := range (*waits)[1:] {
			if w < 4*time.Second || w > 6*time.Second {
				t.Errorf("k=%d: expected interval wait around 5s, got %v", k, w)
			}
		}
	}
}

func TestExecuteRunningForever(t *testing.T) {
	client := &fakeClient{}
	e, _ := newTestEngine(client)
	res, err := e.Run(t.Context(), NewRegistry(), "t-1", Call{Name: "create_vlan"})
	if !errors.Is(err, ErrUnknownOutcome) {
		t.Fatalf("expected unknown outcome, got %v", err)
	}
	if res.Outcome != OutcomeUnknown || res.Polls != testConf.MaxPolls || client.polls != testConf.MaxPolls {
		t.Fatalf("expected %d polls, got %+v", testConf.MaxPolls, res)
	}
}

func TestExecuteFailed(t *testing.T) {
	client := &fakeClient{running: 1, final: automation.StatusFailed}
	e, _ := newTestEngine(client)
	res, err := e.Run(t.Context(), NewRegistry(), "t-1", Call{Name: "create_vlan"})
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("expected failure, got %v", err)
	}
	if res.Outcome != OutcomeFailed || !strings.Contains(string(res.Body), "FAILED") {
		t.Fatalf("expected failed result with body, got %+v", res)
	}
}

func TestExecuteOnlySuccessStatusCounts(t *testing.T) {
	// Statuses other than SUCCESS and FAILED are treated as still running.
	client := &fakeClient{running: 0, final: "SUCCEED"}
	e, _ := newTestEngine(client)
	res, err := e.Run(t.Context(), NewRegistry(), "t-1", Call{Name: "create_vlan"})
	if !errors.Is(err, ErrUnknownOutcome) || res.Outcome != OutcomeUnknown {
		t.Fatalf("expected unknown outcome, got %+v err=%v", res, err)
	}
}

func TestExecuteRejected(t *testing.T) {
	client := &fakeClient{executeErr: &automation.StatusError{Code: 400, Body: []byte("rejected")}}
	e, _ := newTestEngine(client)
	res, err := e.Run(t.Context(), NewRegistry(), "t-1", Call{Name: "create_vlan"})
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("expected failure, got %v", err)
	}
	var statusErr *automation.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != 400 {
		t.Fatalf("expected wrapped status error, got %v", err)
	}
	if res.Polls != 0 || string(res.Body) != "rejected" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestExecuteCancelled(t *testing.T) {
	client := &fakeClient{}
	e := NewEngine(client, testConf, nil, Monitor{})
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	h, err := NewRegistry().Acquire(t.Context(), "t-1")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()
	res, err := e.Execute(ctx, h, Call{Name: "create_vlan"})
	if !errors.Is(err, ErrUnknownOutcome) || res.Outcome != OutcomeUnknown {
		t.Fatalf("expected unknown outcome after cancellation, got %+v err=%v", res, err)
	}
}

func TestCollapseInverseCalls(t *testing.T) {
	client := &fakeClient{final: automation.StatusSuccess}
	e, _ := newTestEngine(client)
	registry := NewRegistry()
	params := map[string]any{"network": "n1"}
	now := time.Unix(1700000000, 0)
	e.now = func() time.Time { return now }

	tests := []struct {
		call      Call
		advance   time.Duration
		collapsed bool
	}{
		{Call{Name: "create_vlan", Object: "vlan:n1", Params: params}, 0, false},
		// Different params do not invert.
		{Call{Name: "delete_vlan", Object: "vlan:n1", Params: map[string]any{"network": "n2"}}, 0, false},
		{Call{Name: "delete_vlan", Object: "vlan:n1", Params: params}, 0, true},
		// The collapsed entry is gone, so a second delete does not collapse.
		{Call{Name: "delete_vlan", Object: "vlan:n1", Params: params}, 0, false},
		// A stale entry is not collapsed.
		{Call{Name: "create_vlan", Object: "vlan:n1", Params: params}, 2 * time.Minute, false},
		{Call{Name: "delete_vlan", Object: "vlan:n1", Params: params}, 0, true},
		// No inverse for unknown workflows.
		{Call{Name: "attach", Object: "vlan:n1", Params: params}, 0, false},
		// Calls with an identity invert each other even if their params differ.
		{Call{Name: "create_vlan", Object: "vlan:n3", Params: map[string]any{"cidr": "10.0.0.0/24"}, Identity: map[string]any{"network": "n3"}}, 0, false},
		{Call{Name: "delete_vlan", Object: "vlan:n3", Params: map[string]any{"vlan": 1001}, Identity: map[string]any{"network": "n3"}}, 0, true},
	}
	for i, tt := range tests {
		now = now.Add(tt.advance)
		res, err := e.Run(t.Context(), registry, "t-1", tt.call)
		if err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
		if res.Collapsed != tt.collapsed {
			t.Fatalf("call %d: expected collapsed=%v, got %v", i, tt.collapsed, res.Collapsed)
		}
	}
	// The duplicate is still sent to the controller.
	if len(client.executed) != len(tests) {
		t.Fatalf("expected %d remote calls, got %d", len(tests), len(client.executed))
	}
}

func TestHistoryIsBounded(t *testing.T) {
	e, _ := newTestEngine(&fakeClient{final: automation.StatusSuccess})
	st := &tenantState{}
	for _, obj := range []string{"a", "b", "c"} {
		e.record(st, Call{Name: "create_vlan", Object: obj}, []byte("null"))
	}
	if len(st.history) != historySize || st.history[0].object != "b" {
		t.Fatalf("expected history [b c], got %+v", st.history)
	}
	// The evicted call can no longer be collapsed.
	if e.record(st, Call{Name: "delete_vlan", Object: "a"}, []byte("null")) {
		t.Fatal("expected no collapse for evicted entry")
	}
}

func TestEngineAgainstController(t *testing.T) {
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/workflow/create_vlan/execute":
			w.Write([]byte(`{"executionid":"e-1"}`))
		case r.URL.Path == "/workflowinstance/e-1":
			polls++
			if polls < 3 {
				w.Write([]byte(`{"status":"RUNNING","progress":50}`))
				return
			}
			w.Write([]byte(`{"status":"SUCCESS","resultdata":{"vlanid":42}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	client, err := automation.NewClient(conf.ControllerConfig{URL: server.URL, RequestTimeoutSeconds: 5}, automation.Monitor{})
	if err != nil {
		t.Fatal(err)
	}
	e, _ := newTestEngine(client)
	res, err := e.Run(t.Context(), NewRegistry(), "t-1", Call{Name: "create_vlan"})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if res.Polls != 3 || res.ExecutionID != "e-1" || string(res.ResultData) != `{"vlanid":42}` {
		t.Fatalf("unexpected result %+v", res)
	}
}
