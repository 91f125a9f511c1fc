package sys

import (
	"net"
	"net/http"
	neturl "net/url"
	"strings"
)

// IsLocalhost returns true if the input (a url or host[:port]) points to a
// loopback or unspecified address.
func IsLocalhost(url string) bool {
	host := url
	if u, err := neturl.Parse(url); err == nil && u.Host != "" {
		host = u.Hostname()
	} else if h, _, err := net.SplitHostPort(url); err == nil {
		host = h
	} else {
		host = strings.Trim(host, "[]")
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsUnspecified()
	}
	return false
}

// ClientIP returns the address identifying the client of r. When trustProxy
// is set the left-most X-Forwarded-For entry wins over the socket address.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
