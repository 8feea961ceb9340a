package server

import (
	"net"
	"net/http"
	"strings"
)

// tenantHost returns the hostname used for tenant lookup. Proxy headers are
// only honoured when the deployment sits behind a trusted gateway; the
// standard Forwarded header wins over X-Forwarded-Host.
func tenantHost(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if h := forwardedHeaderHost(r.Header.Get("Forwarded")); h != "" {
			return canonicalHost(h)
		}
		if h := firstListValue(r.Header.Get("X-Forwarded-Host")); h != "" {
			return canonicalHost(h)
		}
	}
	return canonicalHost(r.Host)
}

// forwardedHeaderHost extracts host= from the first element of an RFC 7239
// Forwarded header.
func forwardedHeaderHost(raw string) string {
	for _, pair := range strings.Split(firstListValue(raw), ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || !strings.EqualFold(k, "host") {
			continue
		}
		return strings.Trim(strings.TrimSpace(v), `"`)
	}
	return ""
}

func firstListValue(raw string) string {
	first, _, _ := strings.Cut(raw, ",")
	return strings.TrimSpace(first)
}

// canonicalHost lowercases, drops the port and any trailing dot. Bracketed
// IPv6 literals lose their brackets.
func canonicalHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	return strings.TrimSuffix(strings.ToLower(host), ".")
}
