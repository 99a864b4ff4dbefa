//go:build !windows

package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yz4230/deployhost/internal/config"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/inject"
	"github.com/yz4230/deployhost/internal/server"
	"github.com/yz4230/deployhost/internal/terraform/terraformtest"
)

func newTestServer(t *testing.T, env map[string]string) *httptest.Server {
	t.Helper()
	srv, _ := newTestServerWithStop(t, env)
	return srv
}

func newTestServerWithStop(t *testing.T, env map[string]string) (*httptest.Server, *server.Server) {
	t.Helper()
	template := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(template, "main.tf"), []byte(`output "application_url" {}`), 0o644))

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.SettleDelay = config.Duration(10 * time.Millisecond)
	cfg.Terraform.Binary = terraformtest.Install(t)
	cfg.Terraform.TemplateDir = template
	cfg.Terraform.Env = env
	cfg.Runner.GracePeriod = config.Duration(500 * time.Millisecond)
	cfg.Verify.Timeout = config.Duration(300 * time.Millisecond)
	cfg.Verify.Interval = config.Duration(20 * time.Millisecond)
	cfg.Follow.PollInterval = config.Duration(20 * time.Millisecond)
	require.NoError(t, cfg.Validate())

	injector := inject.New(cfg, zerolog.Nop())
	app := server.New(&server.Config{Logger: zerolog.Nop(), Injector: injector})
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = inject.Shutdown(ctx, injector)
	})
	return srv, app
}

func call(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, out
}

func waitStatus(t *testing.T, base, id string, want entity.DeploymentStatus) map[string]any {
	t.Helper()
	var snap map[string]any
	require.Eventually(t, func() bool {
		_, snap = call(t, http.MethodGet, base+"/api/deployments/"+id, "")
		return snap["status"] == string(want)
	}, 15*time.Second, 20*time.Millisecond, "deployment never became %s", want)
	return snap
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	res, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestDeploymentLifecycle(t *testing.T) {
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer app.Close()
	srv := newTestServer(t, map[string]string{"FAKE_TF_URL": app.URL})

	status, created := call(t, http.MethodPost, srv.URL+"/api/deployments",
		`{"instructions": "deploy https://github.com/acme/app to tokyo", "tags": {"team": "web"}}`)
	require.Equal(t, http.StatusCreated, status, created)
	id := created["id"].(string)

	snap := waitStatus(t, srv.URL, id, entity.DeploymentStatusHealthy)
	assert.Equal(t, app.URL, snap["public_url"])
	assert.Equal(t, "https://github.com/acme/app", snap["repo"])
	assert.Equal(t, "ap-northeast-1", snap["region"])

	status, outputs := call(t, http.MethodGet, srv.URL+"/api/deployments/"+id+"/outputs", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, app.URL, outputs["outputs"].(map[string]any)["application_url"])

	status, list := call(t, http.MethodGet, srv.URL+"/api/deployments", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, list["deployments"], 1)

	status, events := call(t, http.MethodGet, srv.URL+"/api/deployments/"+id+"/events?from=0", "")
	require.Equal(t, http.StatusOK, status)
	all := events["events"].([]any)
	assert.Equal(t, "INIT", all[0].(map[string]any)["kind"])
	assert.Equal(t, "DONE", all[len(all)-1].(map[string]any)["kind"])

	status, accepted := call(t, http.MethodPost, srv.URL+"/api/deployments/"+id+"/destroy", "")
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, id, accepted["id"])
	waitStatus(t, srv.URL, id, entity.DeploymentStatusDestroyed)

	status, body := call(t, http.MethodGet, srv.URL+"/api/deployments/"+id+"/outputs", "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, body["error"], "not ready")
	status, _ = call(t, http.MethodPost, srv.URL+"/api/deployments/"+id+"/destroy", "")
	assert.Equal(t, http.StatusConflict, status)
}

func TestEventStream(t *testing.T) {
	srv := newTestServer(t, map[string]string{"FAKE_TF_FAIL": "apply"})
	status, created := call(t, http.MethodPost, srv.URL+"/api/deployments",
		`{"repo": "https://github.com/acme/app"}`)
	require.Equal(t, http.StatusCreated, status)
	id := created["id"].(string)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/deployments/"+id+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Last-Event-ID", "1")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	// the stream ends on its own once ERROR is delivered
	var ids, kinds []string
	s := bufio.NewScanner(res.Body)
	for s.Scan() {
		line := s.Text()
		if v, ok := strings.CutPrefix(line, "id: "); ok {
			ids = append(ids, v)
		}
		if v, ok := strings.CutPrefix(line, "event: "); ok && v != "APPLY_OUTPUT_LINE" {
			kinds = append(kinds, v)
		}
	}
	require.NoError(t, s.Err())
	require.NotEmpty(t, ids)
	assert.Equal(t, "2", ids[0])
	assert.Equal(t, []string{"PLAN", "APPLY_START", "ERROR"}, kinds)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t, nil)
	missing := entity.NewID().String()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown deployment", http.MethodGet, "/api/deployments/" + missing, "", http.StatusNotFound},
		{"malformed id", http.MethodGet, "/api/deployments/nope", "", http.StatusBadRequest},
		{"destroy unknown", http.MethodPost, "/api/deployments/" + missing + "/destroy", "", http.StatusNotFound},
		{"events of unknown", http.MethodGet, "/api/deployments/" + missing + "/events?follow=true", "", http.StatusNotFound},
		{"bad cursor", http.MethodGet, "/api/deployments/" + missing + "/events?from=-3", "", http.StatusBadRequest},
		{"missing repo", http.MethodPost, "/api/deployments", `{"instructions": "something"}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/deployments", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := call(t, tt.method, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.want, status)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestStopEndsEventStreams(t *testing.T) {
	srv, app := newTestServerWithStop(t, map[string]string{"FAKE_TF_APPLY_SLEEP": "30"})
	status, created := call(t, http.MethodPost, srv.URL+"/api/deployments",
		`{"repo": "https://github.com/acme/app"}`)
	require.Equal(t, http.StatusCreated, status)
	id := created["id"].(string)
	waitStatus(t, srv.URL, id, entity.DeploymentStatusApplying)

	res, err := http.Get(srv.URL + "/api/deployments/" + id + "/events?follow=true")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	lines := make(chan string)
	ended := make(chan struct{})
	go func() {
		defer close(ended)
		defer close(lines)
		s := bufio.NewScanner(res.Body)
		for s.Scan() {
			lines <- s.Text()
		}
	}()
	// the backlog arrives before the stream blocks on the running apply
	for line := range lines {
		if line == "event: APPLY_START" {
			break
		}
	}
	go func() {
		for range lines {
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Stop(ctx))
	select {
	case <-ended:
	case <-time.After(5 * time.Second):
		t.Fatal("event stream outlived server stop")
	}
}
