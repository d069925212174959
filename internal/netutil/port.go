package netutil

import (
	"fmt"
	"net"
	"strconv"
)

// SelectBindAddr tries host:port for each candidate port in order and
// returns the first address that can be listened on.
func SelectBindAddr(host string, ports []int) (string, error) {
	for _, port := range ports {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ok, err := IsAddrAvailable(addr)
		if err != nil {
			return "", err
		}
		if ok {
			return addr, nil
		}
	}
	return "", fmt.Errorf("no available bind port on %s among %v", host, ports)
}

// IsAddrAvailable returns true when an address can be listened on.
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
