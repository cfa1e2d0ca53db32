package sysfs

import (
	"strings"
)

const (
	ueventFile = "uevent"
	deviceLink = "device"
	keyDevName = "DEVNAME"
	keyProduct = "PRODUCT"
)

// NormalizeID normalizes a hexadecimal identifier. It accepts an optional
// 0x/0X prefix, any case and leading zeros and returns lowercase hex without
// prefix and leading zeros, "0" if nothing is left.
func NormalizeID(s string) string {
	s = strings.ToLower(s)
	if len(s) > 2 && s[0] == '0' && s[1] == 'x' {
		s = s[2:]
	}
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return "0"
	}
	return s
}

// ParseUevent returns all KEY=VALUE pairs of a uevent payload. The first
// occurrence of a key wins.
func ParseUevent(content string) map[string]string {
	ret := map[string]string{}
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			continue
		}
		if _, exists := ret[key]; !exists {
			ret[key] = value
		}
	}
	return ret
}

// ParseIDsFromUevent extracts the normalized VID and PID from the first
// PRODUCT=vid/pid/bcd line of a uevent payload.
func ParseIDsFromUevent(content string) (vid, pid string, ok bool) {
	value, ok := ueventValue(content, keyProduct)
	if !ok {
		return "", "", false
	}
	rawVID, rest, hasPID := strings.Cut(value, "/")
	rawPID := ""
	if hasPID {
		rawPID, _, _ = strings.Cut(rest, "/")
	}
	return NormalizeID(rawVID), NormalizeID(rawPID), true
}

// ueventValue returns the value of the first line starting with key=
func ueventValue(content, key string) (string, bool) {
	prefix := key + "="
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, prefix) {
			return line[len(prefix):], true
		}
	}
	return "", false
}
