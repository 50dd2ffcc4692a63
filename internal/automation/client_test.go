// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package automation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/cobaltcore-dev/tenantnet/internal/conf"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := NewClient(conf.ControllerConfig{
		URL:                   server.URL + "/api/",
		User:                  "admin",
		Secret:                "s3cr3t",
		RequestTimeoutSeconds: 5,
	}, Monitor{})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	c.(*client).now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestSignedHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		ts := r.Header.Get(HeaderTimestamp)
		if ts != strconv.Itoa(1700000000) {
			t.Errorf("unexpected timestamp %q", ts)
		}
		if r.Header.Get(HeaderUser) != "admin" {
			t.Errorf("unexpected user %q", r.Header.Get(HeaderUser))
		}
		if r.URL.Path != "/api/tenant/t-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got, want := r.Header.Get(HeaderSignature), Sign("s3cr3t", ts, r.URL.Path); got != want {
			t.Errorf("expected signature %s, got %s", want, got)
		}
		if r.Header.Get(HeaderRequestID) != "req-1" {
			t.Errorf("expected request id, got %q", r.Header.Get(HeaderRequestID))
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["name"] != "acme" {
			t.Errorf("unexpected body %v err=%v", body, err)
		}
		w.WriteHeader(http.StatusCreated)
	})
	ctx := WithRequestID(t.Context(), "req-1")
	if err := c.CreateTenant(ctx, "t-1", "acme"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestSignIsStable(t *testing.T) {
	a := Sign("secret", "1", "/api/x")
	if a != Sign("secret", "1", "/api/x") {
		t.Fatal("expected deterministic signature")
	}
	if a == Sign("secret", "2", "/api/x") || a == Sign("other", "1", "/api/x") {
		t.Fatal("expected signature to depend on timestamp and secret")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %q", a)
	}
}

func TestExecuteWorkflow(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/workflow/create_vlan/execute" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var params map[string]any
		if err := json.Unmarshal(body, &params); err != nil || params["network"] != "net-1" {
			t.Errorf("unexpected params %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"executionid":"exec-1"}`))
	})
	e, err := c.ExecuteWorkflow(t.Context(), "create_vlan", map[string]any{"network": "net-1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if e.ID != "exec-1" || string(e.Body) != `{"executionid":"exec-1"}` {
		t.Fatalf("unexpected execution %+v", e)
	}
}

func TestReservedCharactersAreEscapedOnce(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/api/tenant/a%2Fb%20c" {
			t.Errorf("unexpected escaped path %s", r.URL.EscapedPath())
		}
		if r.URL.Path != "/api/tenant/a/b c" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		ts := r.Header.Get(HeaderTimestamp)
		if got, want := r.Header.Get(HeaderSignature), Sign("s3cr3t", ts, r.URL.EscapedPath()); got != want {
			t.Errorf("expected signature over the escaped path %s, got %s", want, got)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.DeleteTenant(t.Context(), "a/b c"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestExecuteWorkflowWithoutID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	if _, err := c.ExecuteWorkflow(t.Context(), "x", nil); err == nil {
		t.Fatal("expected error for missing execution id")
	}
}

func TestWorkflowStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/workflowinstance/exec-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"SUCCESS","resultdata":{"vlan":1001},"progress":100}`))
	})
	i, err := c.WorkflowStatus(t.Context(), "exec-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if i.Status != StatusSuccess || string(i.ResultData) != `{"vlan":1001}` {
		t.Fatalf("unexpected instance %+v", i)
	}
}

func TestStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such tenant", http.StatusNotFound)
	})
	err := c.DeleteTenant(t.Context(), "t-1")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusNotFound || string(statusErr.Body) != "no such tenant\n" {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
}

func TestInventory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/reserveddcresource/r-1":
			w.Write([]byte(`{"id":"r-1"}`))
		case "/api/dcresource/groups":
			w.Write([]byte(`["g1","g2"]`))
		case "/api/dcresource/groups/g1":
			w.Write([]byte(`{"name":"g1"}`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := t.Context()
	tests := []struct {
		call     func() (json.RawMessage, error)
		expected string
	}{
		{func() (json.RawMessage, error) { return c.ReservedResource(ctx, "r-1") }, `{"id":"r-1"}`},
		{func() (json.RawMessage, error) { return c.ResourceGroups(ctx) }, `["g1","g2"]`},
		{func() (json.RawMessage, error) { return c.ResourceGroup(ctx, "g1") }, `{"name":"g1"}`},
	}
	for _, tt := range tests {
		got, err := tt.call()
		if err != nil || string(got) != tt.expected {
			t.Errorf("expected %s, got %s err=%v", tt.expected, got, err)
		}
	}
}
