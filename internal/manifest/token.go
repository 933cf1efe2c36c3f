package manifest

import (
	"net/url"
	"strings"
)

// DefaultTokenParams are the query parameters signed origins use for
// short-lived authorization.
var DefaultTokenParams = []string{"token", "expires"}

// TokenRule decides which manifests need their auth parameters copied onto
// every segment request.
type TokenRule struct {
	// Hosts lists signed origins; a host matches itself and its subdomains.
	// An empty list matches nothing.
	Hosts  []string
	Params []string
}

func (r TokenRule) params() []string {
	if len(r.Params) == 0 {
		return DefaultTokenParams
	}
	return r.Params
}

// Matches reports whether manifestURL belongs to a signed origin.
func (r TokenRule) Matches(manifestURL string) bool {
	u, err := url.Parse(manifestURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range r.Hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// AuthParams extracts the configured auth parameters carried by manifestURL.
// It returns nil when none are present.
func (r TokenRule) AuthParams(manifestURL string) url.Values {
	u, err := url.Parse(manifestURL)
	if err != nil {
		return nil
	}
	query := u.Query()
	var out url.Values
	for _, name := range r.params() {
		if values, ok := query[name]; ok && len(values) > 0 {
			if out == nil {
				out = url.Values{}
			}
			out[name] = append([]string(nil), values...)
		}
	}
	return out
}

// Rewriter returns a function that stamps the auth parameters of manifestURL
// onto segment URLs, overriding stale values. It returns nil when the manifest
// carries no auth parameters.
func (r TokenRule) Rewriter(manifestURL string) func(string) string {
	params := r.AuthParams(manifestURL)
	if len(params) == 0 {
		return nil
	}
	return func(segmentURL string) string {
		return Propagate(segmentURL, params)
	}
}

// Propagate sets every parameter in params on segmentURL.
func Propagate(segmentURL string, params url.Values) string {
	if len(params) == 0 {
		return segmentURL
	}
	u, err := url.Parse(segmentURL)
	if err != nil {
		return segmentURL
	}
	query := u.Query()
	for name, values := range params {
		query[name] = append([]string(nil), values...)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// PropagateAll rewrites every segment of a media playlist.
func PropagateAll(segments []string, params url.Values) []string {
	if len(params) == 0 {
		return segments
	}
	out := make([]string, len(segments))
	for i, s := range segments {
		out[i] = Propagate(s, params)
	}
	return out
}
