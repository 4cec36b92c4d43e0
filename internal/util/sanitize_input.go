package util

import "strings"

// SanitizeTag normalizes an RFID tag or device identifier coming off the
// wire: trims whitespace and uppercases hex-style tags.
func SanitizeTag(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ContainsSuspicious flags payload strings that look like injection
// attempts rather than device identifiers.
func ContainsSuspicious(s string) bool {
	badChars := []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"}
	for _, c := range badChars {
		if strings.Contains(strings.ToLower(s), c) {
			return true
		}
	}
	return false
}
