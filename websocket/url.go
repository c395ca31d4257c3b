package websocket

import (
	"fmt"
	"net/url"
	"strconv"
)

// target is a parsed ws:// or wss:// endpoint, split into the pieces the
// handshake and dialer need.
type target struct {
	host   string // hostname or IP literal, no port
	port   int
	path   string // request-target, always starting with "/"
	secure bool   // wss:// -> dial over TLS
}

// defaultPort returns the scheme's default port, mirroring how HTTP
// treats ws as http's sibling and wss as https's (RFC 6455 Section 3).
func defaultPort(secure bool) int {
	if secure {
		return 443
	}
	return 80
}

// parseTarget parses a dial URL of the form ws://host[:port][/path] or
// wss://host[:port][/path] (RFC 6455 Section 3).
//
// net/url.Parse already handles percent-encoding, IPv6 literal hosts,
// and query strings correctly, so this only adds the scheme and port
// validation RFC 6455 requires.
func parseTarget(rawURL string) (*target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	var secure bool
	switch u.Scheme {
	case "ws":
		secure = false
	case "wss":
		secure = true
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	port := defaultPort(secure)
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid port %q", ErrInvalidURL, p)
		}
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	return &target{
		host:   u.Hostname(),
		port:   port,
		path:   path,
		secure: secure,
	}, nil
}

// addr returns the host:port string suitable for net.Dial.
func (t *target) addr() string {
	return fmt.Sprintf("%s:%d", t.host, t.port)
}

// hostHeader returns the value for the HTTP Host header: the default
// port is omitted per RFC 7230 Section 5.4, matching how a browser's
// WebSocket client constructs the handshake request.
func (t *target) hostHeader() string {
	if t.port == defaultPort(t.secure) {
		return t.host
	}
	return t.addr()
}
