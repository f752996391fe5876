package node

import (
	"net"
	"strings"
)

// NormalizeHostPort strips a URL scheme and trailing slash from addr and
// appends defPort when it carries no port.
func NormalizeHostPort(addr, defPort string) string {
	if _, rest, ok := strings.Cut(addr, "://"); ok {
		addr = rest
	}
	addr = strings.TrimSuffix(addr, "/")

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, defPort)
}

// AdvertiseAddr is the gRPC address published to peers: advertise when set,
// otherwise the listen address with an empty or wildcard host replaced by
// hostname.
func AdvertiseAddr(listen, advertise, hostname string) string {
	if advertise != "" {
		_, port, err := net.SplitHostPort(listen)
		if err != nil {
			port = "7070"
		}
		return NormalizeHostPort(advertise, port)
	}

	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = hostname
	}
	return net.JoinHostPort(host, port)
}
