package jenkins

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// Unknown stands in for values Jenkins did not report.
const Unknown = "Unknown"

// Job is one entry of a Jenkins job listing.
type Job struct {
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	URL         string `json:"url"`
	Buildable   bool   `json:"buildable"`
	Description string `json:"description,omitempty"`
}

// Status returns the display label for the job's color.
func (j Job) Status() string {
	return JobStatus(j.Color)
}

// Building reports whether the job has a build in progress.
func (j Job) Building() bool {
	return strings.HasSuffix(j.Color, animeSuffix)
}

// Build is a single build reference.
type Build struct {
	Number    int    `json:"number"`
	URL       string `json:"url"`
	Result    string `json:"result,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// JobDetail is a job with its build history.
type JobDetail struct {
	Job
	LastBuild *Build  `json:"lastBuild,omitempty"`
	Builds    []Build `json:"builds,omitempty"`
}

// PluginCount is the number of installed plugins, or unknown when the plugin
// manager could not be read.
type PluginCount struct {
	N     int
	Known bool
}

func (p PluginCount) String() string {
	if !p.Known {
		return Unknown
	}

	return strconv.Itoa(p.N)
}

// MarshalJSON encodes a known count as a number and an unknown one as "Unknown".
func (p PluginCount) MarshalJSON() ([]byte, error) {
	if !p.Known {
		return json.Marshal(Unknown)
	}

	return json.Marshal(p.N)
}

// UnmarshalJSON accepts either form produced by MarshalJSON.
func (p *PluginCount) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*p = PluginCount{N: n, Known: true}

		return nil
	}

	*p = PluginCount{}

	return nil
}

// ServerInfo aggregates the root API, the current user and the plugin manager.
type ServerInfo struct {
	Version     string            `json:"version"`
	NodeName    string            `json:"node_name"`
	UserInfo    string            `json:"user_info"`
	UserID      string            `json:"user_id"`
	PluginCount PluginCount       `json:"plugin_count"`
	Headers     map[string]string `json:"headers"`
	ServerData  map[string]any    `json:"server_data"`
}

// DebugInfo describes the raw root API response for troubleshooting.
type DebugInfo struct {
	Headers       map[string]string `json:"headers"`
	JSONKeys      []string          `json:"json_keys"`
	HeaderVersion *string           `json:"header_version"`
	JSONVersion   string            `json:"json_version"`
	SampleData    map[string]string `json:"sample_data"`
}

const animeSuffix = "_anime"

var statusLabels = map[string]string{
	"blue":     "SUCCESS",
	"red":      "FAILED",
	"yellow":   "UNSTABLE",
	"grey":     "PENDING",
	"disabled": "DISABLED",
	"aborted":  "ABORTED",
	"notbuilt": "NOT_BUILT",
}

// JobStatus maps a Jenkins color token to a status label. The "_anime"
// suffix is ignored; see Job.Building.
func JobStatus(color string) string {
	base := strings.TrimSuffix(color, animeSuffix)

	if label, ok := statusLabels[base]; ok {
		return label
	}

	if base == "" {
		return "UNKNOWN"
	}

	return strings.ToUpper(base)
}

// flattenHeaders joins repeated header values the way they appear on the wire.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))

	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}

	return out
}
