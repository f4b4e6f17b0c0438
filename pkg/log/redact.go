package log

import "strings"

// Mask renders a secret or credential handle for log output. Only a short
// prefix survives; values of four characters or fewer are fully hidden.
func Mask(secret string) string {
	s := strings.TrimSpace(secret)
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "***"
	}
	keep := 4
	if strings.HasPrefix(s, "env:") {
		// keep the scheme readable, hide the variable name
		keep = 5
	}
	return s[:keep] + "***"
}
