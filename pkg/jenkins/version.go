package jenkins

import (
	"fmt"
	"net/http"
	"strings"
)

// versionHeaders are probed in order.
var versionHeaders = []string{"X-Jenkins", "X-Jenkins-Version", "Jenkins-Version", "Server"}

// ResolveVersion extracts the Jenkins version from response headers.
//
// A value such as "Jenkins/2.401.3" yields the text after the last slash. A
// Server header that mentions Jenkins yields its first slash-separated segment
// starting with a digit. Any other present header is returned as is.
func ResolveVersion(h http.Header) (string, bool) {
	for _, name := range versionHeaders {
		values := h.Values(name)
		if len(values) == 0 {
			continue
		}

		value := values[0]

		if strings.Contains(value, "Jenkins") && strings.Contains(value, "/") {
			return value[strings.LastIndex(value, "/")+1:], true
		}

		if name == "Server" {
			if !strings.Contains(value, "Jenkins") {
				return value, value != ""
			}

			for _, part := range strings.Split(value, "/") {
				if part != "" && part[0] >= '0' && part[0] <= '9' {
					return part, true
				}
			}

			continue
		}

		// An empty header stops the probe, the body decides.
		return value, value != ""
	}

	return "", false
}

// versionFromBody reads the top-level "version" field of a decoded object.
func versionFromBody(root map[string]any) (string, bool) {
	v, ok := root["version"]
	if !ok || v == nil {
		return "", false
	}

	if s, ok := v.(string); ok {
		return s, s != ""
	}

	return fmt.Sprint(v), true
}

// resolveVersion applies the header probe, then the body, then Unknown.
func resolveVersion(h http.Header, root map[string]any) string {
	if v, ok := ResolveVersion(h); ok {
		return v
	}

	if v, ok := versionFromBody(root); ok {
		return v
	}

	return Unknown
}
