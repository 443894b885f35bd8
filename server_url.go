package main

import (
	"net"
	"strings"
)

// listenerURL renders a listener address as scheme://host:port for startup
// logs. Wildcard hosts are shown as localhost.
func listenerURL(scheme, address string) string {
	return scheme + "://" + normaliseHostPort(address)
}

func normaliseHostPort(address string) string {
	address = strings.TrimSpace(address)
	host, port, err := net.SplitHostPort(address)
	switch {
	case address == "":
		return "localhost"
	case err != nil && strings.HasPrefix(address, ":"):
		return "localhost" + address
	case err != nil:
		return address
	}
	if wildcardHost(strings.TrimSpace(host)) {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

func wildcardHost(host string) bool {
	if host == "" {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsUnspecified()
}
