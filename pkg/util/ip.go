package util

import (
	"net"
	"strconv"
)

// IsValidIPv4 checks if a string is a valid IPv4 address
func IsValidIPv4(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	return ip != nil && ip.To4() != nil
}

// JoinHostPort formats address:port, bracketing IPv6 literals.
func JoinHostPort(address string, port int) string {
	return net.JoinHostPort(address, strconv.Itoa(port))
}
