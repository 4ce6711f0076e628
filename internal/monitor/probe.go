// Package monitor watches directory reachability and alerts operators.
package monitor

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultProbeTimeout bounds one TCP reachability probe.
const DefaultProbeTimeout = 3 * time.Second

// Status is the result of one reachability probe.
type Status struct {
	Alive bool   `json:"alive"`
	Host  string `json:"host"`
	Port  int    `json:"port"`
}

// Probe opens and immediately closes a TCP connection to the directory URL.
// An unparsable URL reports host "invalid" and port 0.
func Probe(ctx context.Context, rawURL string, timeout time.Duration) Status {
	host, port, ok := target(rawURL)
	if !ok {
		return Status{Host: "invalid"}
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return Status{Host: host, Port: port}
	}
	_ = conn.Close()
	return Status{Alive: true, Host: host, Port: port}
}

// target extracts host and port, defaulting the port from the scheme.
func target(rawURL string) (string, int, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return "", 0, false
	}

	port := 389
	if strings.EqualFold(u.Scheme, "ldaps") {
		port = 636
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return "", 0, false
		}
		port = n
	}
	return u.Hostname(), port, true
}
