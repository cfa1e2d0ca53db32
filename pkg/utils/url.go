package utils

import (
	"net"
	"net/url"
)

// IsValidUrl accepts absolute http and https urls with a host
func IsValidUrl(str string) bool {
	u, err := url.Parse(str)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// IsValidAddress accepts host:port pairs as used by net.Dial
func IsValidAddress(str string) bool {
	_, port, err := net.SplitHostPort(str)
	return err == nil && port != ""
}
