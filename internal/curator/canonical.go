package curator

import (
	"net/url"
	"strings"
)

// Query parameters that only identify a campaign or referrer.
var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"msclkid": true,
	"mc_cid":  true,
	"mc_eid":  true,
	"igshid":  true,
	"ref":     true,
	"ref_src": true,
}

func isTrackingParam(key string) bool {
	return strings.HasPrefix(key, "utm_") || trackingParams[key]
}

// Canonicalize returns the comparison form of a URL: lowercased, https,
// without default port, fragment, trailing slash or tracking parameters,
// and with the remaining query parameters sorted. Canonicalize is idempotent.
func Canonicalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + strings.TrimPrefix(s, "//")
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return strings.TrimRight(s, "/")
	}

	if u.Scheme == "http" {
		u.Scheme = "https"
	}

	host, port := u.Hostname(), u.Port()
	if port == "80" || port == "443" {
		port = ""
	}
	u.Host = host
	if port != "" {
		u.Host = host + ":" + port
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = strings.TrimRight(u.RawPath, "/")

	if u.RawQuery != "" {
		values := u.Query()
		for key := range values {
			if isTrackingParam(key) {
				values.Del(key)
			}
		}
		u.RawQuery = values.Encode()
	}
	u.ForceQuery = false

	return strings.ToLower(u.String())
}
