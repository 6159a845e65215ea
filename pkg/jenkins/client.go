package jenkins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// Client defines the operations available against a Jenkins server.
type Client interface {
	// Session.
	Connect(ctx context.Context, baseURL, username, password string) (string, error)
	Disconnect()
	IsConnected() bool
	BaseURL() string
	TestConnection(ctx context.Context) (string, error)

	// Jobs.
	ListJobs(ctx context.Context, view string) ([]Job, error)
	GetJobDetail(ctx context.Context, name string) (*JobDetail, error)
	GetJobConfig(ctx context.Context, name string) (string, error)
	UpdateJobConfig(ctx context.Context, name, configXML string) error

	// Server.
	GetServerInfo(ctx context.Context) (*ServerInfo, error)
	GetDebugInfo(ctx context.Context) (*DebugInfo, error)
}

// Metrics receives per-request instrumentation. A nil Metrics is allowed.
type Metrics interface {
	RecordJenkinsRequest(op string)
	RecordJenkinsError(op, kind string)
	ObserveJenkinsRequestDuration(op string, seconds float64)
	SetJenkinsConnected(connected bool)
}

// Options configures the HTTP behaviour of a Client.
type Options struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
	UserAgent          string
}

// DefaultTimeout bounds every Jenkins request when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

const (
	jobsTree      = "jobs[name,color,url,buildable,description]"
	jobDetailTree = "name,description,buildable,color,url," +
		"lastBuild[number,url,result,timestamp],builds[number,url,result,timestamp]"

	allView       = "All"
	sampleKeys    = 10
	sampleMaxLen  = 100
	missingInJSON = "Not found in JSON"
)

// client implements Client.
type client struct {
	log       logrus.FieldLogger
	http      *http.Client
	jar       *sessionJar
	metrics   Metrics
	userAgent string

	mu   sync.RWMutex
	sess *Session
}

// Ensure client implements Client.
var _ Client = (*client)(nil)

// NewClient creates a disconnected Jenkins client.
func NewClient(log logrus.FieldLogger, opts Options, metrics Metrics) Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	if opts.UserAgent == "" {
		opts.UserAgent = "jenkdash"
	}

	httpClient := newHTTPClient(opts.Timeout, opts.InsecureSkipVerify)

	// Jenkins binds CSRF crumbs to the web session cookie.
	jar := newSessionJar()
	httpClient.Jar = jar

	return &client{
		log:       log.WithField("component", "jenkins"),
		http:      httpClient,
		jar:       jar,
		metrics:   metrics,
		userAgent: opts.UserAgent,
	}
}

// Connect authenticates against baseURL and installs the session when the
// root API answers. Any failure leaves the client disconnected.
func (c *client) Connect(ctx context.Context, baseURL, username, password string) (string, error) {
	if strings.TrimSpace(baseURL) == "" {
		c.Disconnect()

		return "", wrapOp("Connection failed", &Error{
			Kind:    KindRequest,
			Message: "Request error: Jenkins URL is required",
		})
	}

	candidate := newSession(baseURL, username, password)

	// The probe runs under the new credentials with no cookies from an
	// earlier login.
	c.jar.reset()

	var root map[string]any

	headers, err := c.getJSON(ctx, candidate, "connect", "/api/json", &root)
	if err != nil {
		c.Disconnect()

		return "", wrapOp("Connection failed", err)
	}

	version := resolveVersion(headers, root)

	c.setSession(candidate)

	if c.metrics != nil {
		c.metrics.SetJenkinsConnected(true)
	}

	c.log.WithFields(logrus.Fields{
		"url":     candidate.BaseURL,
		"version": version,
	}).Info("Connected to Jenkins")

	return "Connected successfully to Jenkins v" + version, nil
}

// TestConnection verifies the root API and the current user.
func (c *client) TestConnection(ctx context.Context) (string, error) {
	sess := c.session()

	var root map[string]any

	headers, err := c.getJSON(ctx, sess, "test_connection", "/api/json", &root)
	if err != nil {
		return "", wrapOp("Connection failed", err)
	}

	var user map[string]any
	if _, err := c.getJSON(ctx, sess, "test_connection", "/me/api/json", &user); err != nil {
		return "", wrapOp("User info failed", err)
	}

	version := resolveVersion(headers, root)
	fullName := stringField(user, "fullName", Unknown)

	return fmt.Sprintf("Connected as '%s' to Jenkins v%s", fullName, version), nil
}

// ListJobs lists the jobs of view. A blank view or "All" lists every job.
func (c *client) ListJobs(ctx context.Context, view string) ([]Job, error) {
	var body struct {
		Jobs []Job `json:"jobs"`
	}

	if _, err := c.getJSON(ctx, c.session(), "list_jobs", jobsEndpoint(view), &body); err != nil {
		return nil, wrapOp("Error listing jobs", err)
	}

	if body.Jobs == nil {
		return []Job{}, nil
	}

	return body.Jobs, nil
}

func jobsEndpoint(view string) string {
	v := strings.TrimSpace(view)
	if v == "" || v == allView {
		return "/api/json?tree=" + jobsTree
	}

	return "/view/" + url.PathEscape(v) + "/api/json?tree=" + jobsTree
}

// GetJobDetail returns a job with its last build and full build list.
func (c *client) GetJobDetail(ctx context.Context, name string) (*JobDetail, error) {
	var detail JobDetail

	endpoint := jobPath(name) + "/api/json?tree=" + jobDetailTree

	if _, err := c.getJSON(ctx, c.session(), "get_job_detail", endpoint, &detail); err != nil {
		return nil, wrapOp("Error getting job details", err)
	}

	return &detail, nil
}

// GetJobConfig returns the raw config.xml of a job.
func (c *client) GetJobConfig(ctx context.Context, name string) (string, error) {
	resp, err := c.do(ctx, c.session(), call{
		op:       "get_job_config",
		method:   http.MethodGet,
		endpoint: jobPath(name) + "/config.xml",
		accept:   "application/xml",
	})
	if err != nil {
		return "", wrapOp("Error getting job config", err)
	}

	return string(resp.body), nil
}

// UpdateJobConfig replaces the config.xml of a job.
func (c *client) UpdateJobConfig(ctx context.Context, name, configXML string) error {
	sess := c.session()

	req := call{
		op:          "update_job_config",
		method:      http.MethodPost,
		endpoint:    jobPath(name) + "/config.xml",
		body:        configXML,
		contentType: "application/xml",
		accept:      "*/*",
	}

	if sess != nil {
		req.crumbField, req.crumb = c.fetchCrumb(ctx, sess)
	}

	if _, err := c.do(ctx, sess, req); err != nil {
		return wrapOp("Error updating job config", err)
	}

	c.log.WithField("job", name).Info("Updated job config")

	return nil
}

// fetchCrumb asks the crumb issuer for a CSRF token. Instances without CSRF
// protection answer 404, which is not an error here.
func (c *client) fetchCrumb(ctx context.Context, sess *Session) (string, string) {
	var body struct {
		Crumb             string `json:"crumb"`
		CrumbRequestField string `json:"crumbRequestField"`
	}

	resp, err := c.do(ctx, sess, call{
		op:       "crumb",
		method:   http.MethodGet,
		endpoint: "/crumbIssuer/api/json",
		optional: true,
	})
	if err != nil || json.Unmarshal(resp.body, &body) != nil {
		return "", ""
	}

	return body.CrumbRequestField, body.Crumb
}

func jobPath(name string) string {
	return "/job/" + url.PathEscape(name)
}

// GetServerInfo combines the root API with best-effort user and plugin
// lookups. Only a root failure is reported.
func (c *client) GetServerInfo(ctx context.Context) (*ServerInfo, error) {
	sess := c.session()

	var root map[string]any

	headers, err := c.getJSON(ctx, sess, "server_info", "/api/json", &root)
	if err != nil {
		return nil, wrapOp("Error getting server info", err)
	}

	info := &ServerInfo{
		Version:    resolveVersion(headers, root),
		NodeName:   stringField(root, "nodeName", Unknown),
		UserInfo:   Unknown,
		UserID:     Unknown,
		Headers:    flattenHeaders(headers),
		ServerData: root,
	}

	var user map[string]any
	if _, err := c.getJSON(ctx, sess, "server_info_user", "/me/api/json", &user); err == nil && len(user) > 0 {
		info.UserInfo = stringField(user, "fullName", Unknown)
		info.UserID = stringField(user, "id", Unknown)
	}

	var plugins struct {
		Plugins []json.RawMessage `json:"plugins"`
	}

	if _, err := c.getJSON(ctx, sess, "server_info_plugins", "/pluginManager/api/json?depth=1", &plugins); err == nil {
		info.PluginCount = PluginCount{N: len(plugins.Plugins), Known: true}
	}

	return info, nil
}

// GetDebugInfo reports the raw shape of the root API response.
func (c *client) GetDebugInfo(ctx context.Context) (*DebugInfo, error) {
	resp, err := c.do(ctx, c.session(), call{op: "debug_info", method: http.MethodGet, endpoint: "/api/json"})
	if err != nil {
		return nil, wrapOp("Debug Error", err)
	}

	if !json.Valid(resp.body) {
		return nil, wrapOp("Debug Error", invalidResponseError(fmt.Errorf("root API returned non-JSON")))
	}

	info := &DebugInfo{
		Headers:     flattenHeaders(resp.headers),
		JSONKeys:    []string{},
		JSONVersion: missingInJSON,
		SampleData:  map[string]string{},
	}

	if v, ok := ResolveVersion(resp.headers); ok {
		info.HeaderVersion = &v
	}

	keys, values, isObject := orderedObject(resp.body)
	if !isObject {
		return info, nil
	}

	info.JSONKeys = keys

	if raw, ok := values["version"]; ok {
		info.JSONVersion = rawString(raw)
	}

	for i, key := range keys {
		if i == sampleKeys {
			break
		}

		info.SampleData[key] = truncate(rawString(values[key]), sampleMaxLen)
	}

	return info, nil
}

// orderedObject returns the top-level keys of a JSON object in document order
// together with their raw values. Duplicate keys keep their first position
// and last value.
func orderedObject(data []byte) ([]string, map[string]json.RawMessage, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, false
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, false
	}

	var (
		keys   []string
		values = make(map[string]json.RawMessage)
	)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, false
		}

		key, ok := tok.(string)
		if !ok {
			return nil, nil, false
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, nil, false
		}

		if _, seen := values[key]; !seen {
			keys = append(keys, key)
		}

		values[key] = raw
	}

	if keys == nil {
		keys = []string{}
	}

	return keys, values, true
}

// rawString renders a JSON value for display: strings unquoted, everything
// else in compact JSON.
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}

	return buf.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	return string([]rune(s)[:n])
}

func stringField(m map[string]any, key, fallback string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return fallback
	}

	if s, ok := v.(string); ok {
		return s
	}

	return fmt.Sprint(v)
}
