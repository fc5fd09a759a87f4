// Package netutil has small TCP helpers shared by the HTTP server and the
// launcher.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// SelectBindAddr picks the first listenable address: the preferred one, then
// the fallback candidates when auto-fallback is allowed.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	if preferred != "" {
		ok, err := IsAddrAvailable(preferred)
		if err != nil {
			return "", err
		}
		if ok {
			return preferred, nil
		}
		if !autoFallback {
			return "", fmt.Errorf("bind address in use: %s", preferred)
		}
	}

	for _, addr := range candidates {
		ok, err := IsAddrAvailable(addr)
		if err != nil {
			return "", err
		}
		if ok {
			return addr, nil
		}
	}

	return "", errors.New("no available bind addresses")
}

// IsAddrAvailable reports whether an address can be listened on right now.
func IsAddrAvailable(addr string) (bool, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false, nil
	}
	if closeErr := ln.Close(); closeErr != nil {
		return false, closeErr
	}
	return true, nil
}

// PortInUse reports whether something already accepts connections on the
// port. Used before launching a browser onto a debug port: an occupied port
// that failed discovery is not ours to take.
func PortInUse(host string, port int, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = time.Second
	}
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
