package jenkins

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// maxBodySize caps how much of a Jenkins response is read into memory.
const maxBodySize = 32 << 20

// response is the raw outcome of a successful Jenkins call.
type response struct {
	body    []byte
	headers http.Header
}

// call describes one request against the session base URL.
type call struct {
	op          string
	method      string
	endpoint    string
	body        string
	contentType string
	accept      string
	crumbField  string
	crumb       string

	// optional marks endpoints that may legitimately be absent. A 404 from
	// them is returned to the caller but not counted or logged as a failure.
	optional bool
}

func newHTTPClient(timeout time.Duration, insecureSkipVerify bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if insecureSkipVerify {
		//nolint:gosec // Opt-in for Jenkins instances behind self-signed or private CA certificates.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// do issues a request using the given session snapshot. It never touches the
// network when sess is nil.
func (c *client) do(ctx context.Context, sess *Session, req call) (*response, error) {
	if sess == nil {
		return nil, ErrNotConnected
	}

	start := time.Now()

	if c.metrics != nil {
		c.metrics.RecordJenkinsRequest(req.op)
	}

	resp, err := c.send(ctx, sess, req)

	if c.metrics != nil {
		c.metrics.ObserveJenkinsRequestDuration(req.op, time.Since(start).Seconds())
	}

	if err != nil && req.optional && KindOf(err) == KindNotFound {
		return nil, err
	}

	if err != nil && c.metrics != nil {
		c.metrics.RecordJenkinsError(req.op, string(KindOf(err)))
	}

	if err != nil {
		c.log.WithFields(logrus.Fields{
			"op":       req.op,
			"endpoint": req.endpoint,
			"kind":     KindOf(err),
		}).WithError(err).Debug("Jenkins request failed")

		return nil, err
	}

	return resp, nil
}

func (c *client) send(ctx context.Context, sess *Session, req call) (*response, error) {
	var body io.Reader
	if req.body != "" {
		body = strings.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, sess.url(req.endpoint), body)
	if err != nil {
		return nil, &Error{
			Kind:    KindRequest,
			Message: fmt.Sprintf("Request error: %v", err),
			Err:     err,
		}
	}

	httpReq.Header.Set("Authorization", sess.authHeader)
	httpReq.Header.Set("User-Agent", c.userAgent)

	accept := req.accept
	if accept == "" {
		accept = "application/json"
	}

	httpReq.Header.Set("Accept", accept)

	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	if req.crumbField != "" && req.crumb != "" {
		httpReq.Header.Set(req.crumbField, req.crumb)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}

	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode >= 400 {
		return nil, statusError(httpResp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, transportError(err)
	}

	return &response{body: data, headers: httpResp.Header}, nil
}

// getJSON fetches endpoint and decodes the body into dest.
func (c *client) getJSON(ctx context.Context, sess *Session, op, endpoint string, dest any) (http.Header, error) {
	resp, err := c.do(ctx, sess, call{op: op, method: http.MethodGet, endpoint: endpoint})
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(resp.body, dest); err != nil {
		return resp.headers, invalidResponseError(err)
	}

	return resp.headers, nil
}
