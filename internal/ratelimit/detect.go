package ratelimit

import "strings"

// signals is the exact, closed phrase list from spec §4.B. Implementations
// must not drop a phrase, and none is added here beyond it: unlike the
// teacher's broader Claude-specific regex set, this is the full contract.
var signals = []string{
	"rate_limit",
	"rate limit exceeded",
	"429",
	"quota exceeded",
	"too many requests",
}

// IsRateLimited scans combined stdout+stderr for any configured signal,
// case-insensitively.
func IsRateLimited(output string) bool {
	lower := strings.ToLower(output)
	for _, s := range signals {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
