package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/jenkdash/pkg/auth"
	"github.com/ethpandaops/jenkdash/pkg/config"
	"github.com/ethpandaops/jenkdash/pkg/jenkins"
	"github.com/ethpandaops/jenkdash/pkg/metrics"
	"github.com/ethpandaops/jenkdash/pkg/store"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const pipelineConfig = `<?xml version='1.1' encoding='UTF-8'?>
<flow-definition plugin="workflow-job">
  <definition class="org.jenkinsci.plugins.workflow.cps.CpsFlowDefinition">
    <script>pipeline { agent any }</script>
    <sandbox>true</sandbox>
  </definition>
</flow-definition>`

// fakeJenkins answers the endpoints the dashboard uses. Handlers are keyed
// by path; the last POSTed config.xml is kept.
type fakeJenkins struct {
	*httptest.Server

	mu         sync.Mutex
	rootStatus int
	pluginsOK  bool
	posted     string
	// named jobs answer config.xml with a script that echoes their name.
	named map[string]bool
}

func newFakeJenkins(t *testing.T) *fakeJenkins {
	t.Helper()

	f := &fakeJenkins{rootStatus: http.StatusOK, pluginsOK: true}

	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)

	return f
}

func (f *fakeJenkins) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	writeJSON := func(v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	switch {
	case r.URL.Path == "/api/json":
		if f.rootStatus != http.StatusOK {
			w.WriteHeader(f.rootStatus)

			return
		}

		w.Header().Set("X-Jenkins", "2.440.1")

		if strings.HasPrefix(r.URL.Query().Get("tree"), "jobs") {
			writeJSON(map[string]any{"jobs": []map[string]any{
				{"name": "build", "color": "blue", "url": f.URL + "/job/build/", "buildable": true},
				{"name": "deploy", "color": "red_anime", "url": f.URL + "/job/deploy/", "buildable": true},
			}})

			return
		}

		writeJSON(map[string]any{"nodeName": "built-in", "mode": "NORMAL"})
	case r.URL.Path == "/me/api/json":
		writeJSON(map[string]any{"fullName": "Ops Bot", "id": "ops"})
	case r.URL.Path == "/pluginManager/api/json":
		if !f.pluginsOK {
			w.WriteHeader(http.StatusForbidden)

			return
		}

		writeJSON(map[string]any{"plugins": []map[string]any{{"shortName": "git"}, {"shortName": "workflow-job"}}})
	case r.URL.Path == "/job/deploy/api/json":
		writeJSON(map[string]any{
			"name": "deploy", "color": "red_anime", "url": f.URL + "/job/deploy/", "buildable": true,
			"lastBuild": map[string]any{"number": 7, "url": f.URL + "/job/deploy/7/", "timestamp": 1700000000000},
			"builds":    []map[string]any{{"number": 7}, {"number": 6, "result": "FAILURE"}},
		})
	case r.URL.Path == "/job/deploy/config.xml" && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, pipelineConfig)
	case r.URL.Path == "/job/deploy/config.xml" && r.Method == http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		f.posted = string(body)
	case r.Method == http.MethodGet && f.named[namedJob(r.URL.Path)]:
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, "<flow-definition><definition><script>"+namedJob(r.URL.Path)+"</script></definition></flow-definition>")
	default:
		http.NotFound(w, r)
	}
}

// namedJob returns the job name of a decoded /job/<name>/config.xml path.
func namedJob(path string) string {
	if !strings.HasPrefix(path, "/job/") || !strings.HasSuffix(path, "/config.xml") {
		return ""
	}

	return strings.TrimSuffix(strings.TrimPrefix(path, "/job/"), "/config.xml")
}

func (f *fakeJenkins) set(fn func(f *fakeJenkins)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fn(f)
}

type testEnv struct {
	srv     Server
	store   store.Store
	jenkins jenkins.Client
	fake    *fakeJenkins
	http    *httptest.Server
}

func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := &config.Config{
		Server: config.ServerConfig{Listen: ":0"},
		Auth:   config.AuthConfig{SessionTTL: time.Hour},
	}

	if mutate != nil {
		mutate(cfg)
	}

	ctx := context.Background()

	st := store.NewSQLiteStore(log, filepath.Join(t.TempDir(), "api.db"))
	if err := st.Start(ctx); err != nil {
		t.Fatalf("store Start error = %v", err)
	}

	t.Cleanup(func() { _ = st.Stop() })

	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate error = %v", err)
	}

	authSvc := auth.NewService(log, cfg.Auth, st)
	if err := authSvc.Start(ctx); err != nil {
		t.Fatalf("auth Start error = %v", err)
	}

	t.Cleanup(func() { _ = authSvc.Stop() })

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegisterer(reg)
	jc := jenkins.NewClient(log, jenkins.Options{Timeout: 5 * time.Second}, m)

	srv := NewServer(log, cfg, Deps{
		Store:    st,
		Auth:     authSvc,
		Jenkins:  jc,
		Metrics:  m,
		Gatherer: reg,
		Build:    BuildInfo{Version: "test"},
	})

	t.Cleanup(func() { _ = srv.Stop() })

	env := &testEnv{srv: srv, store: st, jenkins: jc, fake: newFakeJenkins(t)}
	env.http = httptest.NewServer(srv.Handler())
	t.Cleanup(env.http.Close)

	return env
}

// do issues a request against the API and decodes a JSON response into out
// when out is non-nil.
func (e *testEnv) do(t *testing.T, method, path, body, token string, out any) int {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, e.http.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s: %v", method, path, err)
		}
	}

	return resp.StatusCode
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) connect(t *testing.T) {
	t.Helper()

	var env envelope

	body := `{"url":"` + e.fake.URL + `/","username":"ops","password":"token"}`
	if code := e.do(t, http.MethodPost, "/api/v1/jenkins/connect", body, "", &env); code != http.StatusOK || !env.Success {
		t.Fatalf("connect = %d %+v", code, env)
	}
}

func TestNotConnectedIsBadRequest(t *testing.T) {
	e := newTestEnv(t, nil)

	paths := []string{
		"/api/v1/jenkins/test",
		"/api/v1/jenkins/jobs",
		"/api/v1/jenkins/jobs/deploy",
		"/api/v1/jenkins/jobs/deploy/config",
		"/api/v1/jenkins/jobs/deploy/script",
		"/api/v1/jenkins/server-info",
		"/api/v1/jenkins/debug",
	}

	for _, path := range paths {
		var env envelope

		code := e.do(t, http.MethodGet, path, "", "", &env)
		if code != http.StatusBadRequest || env.Success || !strings.Contains(env.Message, "Not connected to Jenkins server") {
			t.Fatalf("%s = %d %+v", path, code, env)
		}
	}

	var env envelope

	code := e.do(t, http.MethodPut, "/api/v1/jenkins/jobs/deploy/config", `{"config_xml":"<x/>"}`, "", &env)
	if code != http.StatusBadRequest || env.Success {
		t.Fatalf("update config = %d %+v", code, env)
	}
}

func TestConnectListAndDisconnect(t *testing.T) {
	e := newTestEnv(t, nil)

	var env envelope

	body := `{"url":"` + e.fake.URL + `","username":"ops","password":"token"}`
	if code := e.do(t, http.MethodPost, "/api/v1/jenkins/connect", body, "", &env); code != http.StatusOK {
		t.Fatalf("connect status = %d", code)
	}

	if !env.Success || env.Message != "Connected successfully to Jenkins v2.440.1" {
		t.Fatalf("connect = %+v", env)
	}

	var status struct {
		Data ConnectionStatus `json:"data"`
	}

	e.do(t, http.MethodGet, "/api/v1/jenkins/status", "", "", &status)

	if !status.Data.Connected || status.Data.BaseURL != e.fake.URL {
		t.Fatalf("status = %+v", status.Data)
	}

	var jobs struct {
		Success bool      `json:"success"`
		Data    []JobView `json:"data"`
	}

	if code := e.do(t, http.MethodGet, "/api/v1/jenkins/jobs?view=All", "", "", &jobs); code != http.StatusOK || !jobs.Success {
		t.Fatalf("jobs = %d %+v", code, jobs)
	}

	if len(jobs.Data) != 2 || jobs.Data[0].Status != "SUCCESS" || jobs.Data[1].Status != "FAILED" || !jobs.Data[1].Building {
		t.Fatalf("jobs data = %+v", jobs.Data)
	}

	e.do(t, http.MethodGet, "/api/v1/jenkins/test", "", "", &env)

	if !env.Success || env.Message != "Connected as 'Ops Bot' to Jenkins v2.440.1" {
		t.Fatalf("test = %+v", env)
	}

	if code := e.do(t, http.MethodPost, "/api/v1/jenkins/disconnect", "", "", &env); code != http.StatusOK || !env.Success {
		t.Fatalf("disconnect = %d %+v", code, env)
	}

	if e.jenkins.IsConnected() {
		t.Fatalf("still connected after disconnect")
	}

	// Idempotent.
	if code := e.do(t, http.MethodPost, "/api/v1/jenkins/disconnect", "", "", &env); code != http.StatusOK || !env.Success {
		t.Fatalf("second disconnect = %d %+v", code, env)
	}

	var audit AuditListResponse

	e.do(t, http.MethodGet, "/api/v1/audit", "", "", &audit)

	if audit.Total != 2 {
		t.Fatalf("audit total = %d, want 2", audit.Total)
	}

	if audit.Entries[0].Action != store.AuditActionJenkinsDisconnect || audit.Entries[0].Actor != auth.LocalOperator.Username {
		t.Fatalf("latest audit entry = %+v", audit.Entries[0])
	}
}

func TestConnectFailures(t *testing.T) {
	e := newTestEnv(t, nil)

	var env envelope

	if code := e.do(t, http.MethodPost, "/api/v1/jenkins/connect", `{"url":"  "}`, "", &env); code != http.StatusBadRequest {
		t.Fatalf("blank url = %d", code)
	}

	if code := e.do(t, http.MethodPost, "/api/v1/jenkins/connect", `{`, "", &env); code != http.StatusBadRequest {
		t.Fatalf("bad body = %d", code)
	}

	e.fake.set(func(f *fakeJenkins) { f.rootStatus = http.StatusUnauthorized })

	body := `{"url":"` + e.fake.URL + `","username":"ops","password":"bad"}`

	code := e.do(t, http.MethodPost, "/api/v1/jenkins/connect", body, "", &env)
	if code != http.StatusOK || env.Success {
		t.Fatalf("401 connect = %d %+v", code, env)
	}

	if env.Message != "Connection failed: Authentication failed - check username/password" {
		t.Fatalf("message = %q", env.Message)
	}

	if e.jenkins.IsConnected() {
		t.Fatalf("failed connect left a session")
	}
}

func TestJobDetailAndScript(t *testing.T) {
	e := newTestEnv(t, nil)
	e.connect(t)

	var detail struct {
		Success bool `json:"success"`
		Data    struct {
			Name           string          `json:"name"`
			Status         string          `json:"status"`
			Building       bool            `json:"building"`
			LastBuild      *jenkins.Build  `json:"lastBuild"`
			Builds         []jenkins.Build `json:"builds"`
			ConfigXML      string          `json:"config_xml"`
			PipelineScript string          `json:"pipeline_script"`
		} `json:"data"`
	}

	if code := e.do(t, http.MethodGet, "/api/v1/jenkins/jobs/deploy", "", "", &detail); code != http.StatusOK || !detail.Success {
		t.Fatalf("detail = %d %+v", code, detail)
	}

	d := detail.Data
	if d.Name != "deploy" || d.Status != "FAILED" || !d.Building || d.LastBuild == nil || d.LastBuild.Number != 7 || len(d.Builds) != 2 {
		t.Fatalf("detail data = %+v", d)
	}

	if d.ConfigXML != pipelineConfig || d.PipelineScript != "pipeline { agent any }" {
		t.Fatalf("config/script = %q / %q", d.ConfigXML, d.PipelineScript)
	}

	var script struct {
		Data PipelineScript `json:"data"`
	}

	e.do(t, http.MethodGet, "/api/v1/jenkins/jobs/deploy/script", "", "", &script)

	if script.Data.Script != "pipeline { agent any }" {
		t.Fatalf("script = %q", script.Data.Script)
	}

	var env envelope

	code := e.do(t, http.MethodPut, "/api/v1/jenkins/jobs/deploy/script", `{"script":"echo 'a < b'"}`, "", &env)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("update script = %d %+v", code, env)
	}

	e.fake.mu.Lock()
	posted := e.fake.posted
	e.fake.mu.Unlock()

	if !strings.Contains(posted, "<script>echo 'a &lt; b'</script>") || !strings.Contains(posted, "<sandbox>true</sandbox>") {
		t.Fatalf("posted config = %s", posted)
	}

	// Jobs without a script are an operational failure, not a server error.
	code = e.do(t, http.MethodGet, "/api/v1/jenkins/jobs/missing/script", "", "", &env)
	if code != http.StatusOK || env.Success || !strings.HasPrefix(env.Message, "Error getting job config: ") {
		t.Fatalf("missing job script = %d %+v", code, env)
	}
}

func TestJobNamesKeepPercentSigns(t *testing.T) {
	e := newTestEnv(t, nil)
	e.connect(t)
	e.fake.set(func(f *fakeJenkins) {
		f.named = map[string]bool{"100%done": true, "a%2Fb": true, "a/b": true}
	})

	tests := []struct {
		segment string
		want    string
	}{
		{segment: "100%25done", want: "100%done"},
		{segment: "a%252Fb", want: "a%2Fb"},
		{segment: "a%2Fb", want: "a/b"},
	}

	for _, tt := range tests {
		var script struct {
			Success bool           `json:"success"`
			Message string         `json:"message"`
			Data    PipelineScript `json:"data"`
		}

		code := e.do(t, http.MethodGet, "/api/v1/jenkins/jobs/"+tt.segment+"/script", "", "", &script)
		if code != http.StatusOK || !script.Success {
			t.Fatalf("%s = %d %+v", tt.segment, code, script)
		}

		if script.Data.Script != tt.want {
			t.Fatalf("%s resolved to job %q, want %q", tt.segment, script.Data.Script, tt.want)
		}
	}
}

func TestUpdateConfigValidation(t *testing.T) {
	e := newTestEnv(t, nil)
	e.connect(t)

	var env envelope

	if code := e.do(t, http.MethodPut, "/api/v1/jenkins/jobs/deploy/config", `{"config_xml":""}`, "", &env); code != http.StatusBadRequest {
		t.Fatalf("empty config = %d", code)
	}

	if code := e.do(t, http.MethodPut, "/api/v1/jenkins/jobs/deploy/config", `{"config_xml":"<project/>"}`, "", &env); code != http.StatusOK || !env.Success {
		t.Fatalf("update = %d %+v", code, env)
	}

	if env.Message != "Job configuration updated successfully" {
		t.Fatalf("message = %q", env.Message)
	}
}

func TestServerInfoDegradesPlugins(t *testing.T) {
	e := newTestEnv(t, nil)
	e.connect(t)
	e.fake.set(func(f *fakeJenkins) { f.pluginsOK = false })

	var info struct {
		Success bool `json:"success"`
		Data    struct {
			Version     string `json:"version"`
			NodeName    string `json:"node_name"`
			UserInfo    string `json:"user_info"`
			PluginCount any    `json:"plugin_count"`
		} `json:"data"`
	}

	if code := e.do(t, http.MethodGet, "/api/v1/jenkins/server-info", "", "", &info); code != http.StatusOK || !info.Success {
		t.Fatalf("server-info = %d %+v", code, info)
	}

	if info.Data.Version != "2.440.1" || info.Data.NodeName != "built-in" || info.Data.UserInfo != "Ops Bot" {
		t.Fatalf("info = %+v", info.Data)
	}

	if info.Data.PluginCount != "Unknown" {
		t.Fatalf("plugin_count = %v, want Unknown", info.Data.PluginCount)
	}
}

func TestAuthEnforced(t *testing.T) {
	e := newTestEnv(t, func(cfg *config.Config) {
		cfg.Auth.Basic = config.BasicAuthConfig{
			Enabled: true,
			Users: []config.UserAuth{
				{Username: "admin", Password: "pw", Role: "admin"},
				{Username: "viewer", Password: "pw", Role: "readonly"},
			},
		}
	})

	if code := e.do(t, http.MethodGet, "/api/v1/jenkins/status", "", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("anonymous = %d", code)
	}

	login := func(user string) string {
		var resp LoginResponse
		if code := e.do(t, http.MethodPost, "/api/v1/auth/login", `{"username":"`+user+`","password":"pw"}`, "", &resp); code != http.StatusOK {
			t.Fatalf("login %s = %d", user, code)
		}

		return resp.Token
	}

	if code := e.do(t, http.MethodPost, "/api/v1/auth/login", `{"username":"admin","password":"nope"}`, "", nil); code != http.StatusUnauthorized {
		t.Fatalf("bad login = %d", code)
	}

	viewer := login("viewer")

	if code := e.do(t, http.MethodGet, "/api/v1/jenkins/status", "", viewer, nil); code != http.StatusOK {
		t.Fatalf("viewer status = %d", code)
	}

	body := `{"url":"` + e.fake.URL + `"}`
	if code := e.do(t, http.MethodPost, "/api/v1/jenkins/connect", body, viewer, nil); code != http.StatusForbidden {
		t.Fatalf("viewer connect = %d", code)
	}

	if code := e.do(t, http.MethodGet, "/api/v1/audit", "", viewer, nil); code != http.StatusForbidden {
		t.Fatalf("viewer audit = %d", code)
	}

	admin := login("admin")

	var env envelope
	if code := e.do(t, http.MethodPost, "/api/v1/jenkins/connect", body, admin, &env); code != http.StatusOK || !env.Success {
		t.Fatalf("admin connect = %d %+v", code, env)
	}

	var me store.User
	e.do(t, http.MethodGet, "/api/v1/auth/me", "", admin, &me)

	if me.Username != "admin" || me.Role != store.RoleAdmin {
		t.Fatalf("me = %+v", me)
	}

	if code := e.do(t, http.MethodPost, "/api/v1/auth/logout", "", admin, nil); code != http.StatusNoContent {
		t.Fatalf("logout = %d", code)
	}

	if code := e.do(t, http.MethodGet, "/api/v1/auth/me", "", admin, nil); code != http.StatusUnauthorized {
		t.Fatalf("me after logout = %d", code)
	}
}

func TestSystemEndpoints(t *testing.T) {
	e := newTestEnv(t, nil)

	var health HealthResponse
	if code := e.do(t, http.MethodGet, "/health", "", "", &health); code != http.StatusOK || health.Status != "ok" {
		t.Fatalf("health = %d %+v", code, health)
	}

	var doc map[string]any
	if code := e.do(t, http.MethodGet, "/api/v1/openapi.json", "", "", &doc); code != http.StatusOK {
		t.Fatalf("openapi = %d", code)
	}

	if _, ok := doc["paths"].(map[string]any)["/jenkins/connect"]; !ok {
		t.Fatalf("openapi document lacks /jenkins/connect")
	}

	var status SystemStatusResponse
	e.do(t, http.MethodGet, "/api/v1/status", "", "", &status)

	if status.Database.Status != ComponentStatusHealthy || status.Jenkins.Connected || status.Version.Version != "test" {
		t.Fatalf("status = %+v", status)
	}

	e.connect(t)

	resp, err := http.Get(e.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{"jenkdash_jenkins_connected 1", `jenkdash_http_requests_total{method="POST",path="/api/v1/jenkins/connect",status="200"} 1`} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output lacks %q", want)
		}
	}
}

func TestWebSocketConnectionStatus(t *testing.T) {
	e := newTestEnv(t, nil)

	wsURL := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/api/v1/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial error = %v", err)
	}
	defer conn.Close()

	read := func() (MessageType, ConnectionStatus) {
		t.Helper()

		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

		var msg struct {
			Type    MessageType      `json:"type"`
			Payload ConnectionStatus `json:"payload"`
		}

		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON error = %v", err)
		}

		return msg.Type, msg.Payload
	}

	if typ, st := read(); typ != MessageTypeConnectionStatus || st.Connected {
		t.Fatalf("hello = %s %+v", typ, st)
	}

	// Wait for the hub to register the client before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for e.srv.(*server).hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}

		time.Sleep(5 * time.Millisecond)
	}

	e.connect(t)

	if typ, st := read(); typ != MessageTypeConnectionStatus || !st.Connected || st.BaseURL != e.fake.URL {
		t.Fatalf("broadcast = %s %+v", typ, st)
	}
}
