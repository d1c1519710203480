package ratelimit

import (
	"testing"
	"time"
)

// withClock swaps a Limiter's clock for a test-controlled one.
func withClock(l *Limiter, now *time.Time) {
	l.now = func() time.Time { return *now }
}

func TestTryAcquireRespectsCapacity(t *testing.T) {
	l := New(map[string]int{"claude:sonnet": 2}, time.Second, time.Minute)

	if !l.TryAcquire("claude:sonnet") {
		t.Fatal("expected first acquire to succeed")
	}
	if !l.TryAcquire("claude:sonnet") {
		t.Fatal("expected second acquire to succeed (capacity 2)")
	}
	if l.TryAcquire("claude:sonnet") {
		t.Fatal("expected third acquire to fail, capacity exhausted")
	}

	l.Release("claude:sonnet")
	if !l.TryAcquire("claude:sonnet") {
		t.Fatal("expected acquire to succeed after a release")
	}
}

func TestTryAcquireUnconfiguredKeyFails(t *testing.T) {
	l := New(map[string]int{"claude:sonnet": 1}, time.Second, time.Minute)
	if l.TryAcquire("gemini:pro") {
		t.Fatal("expected acquire on an unconfigured key to fail")
	}
	if l.Configured("gemini:pro") {
		t.Fatal("expected gemini:pro to be reported as unconfigured")
	}
}

func TestReleaseFlooredAtZero(t *testing.T) {
	l := New(map[string]int{"claude:sonnet": 1}, time.Second, time.Minute)
	l.Release("claude:sonnet")
	l.Release("claude:sonnet")
	if !l.TryAcquire("claude:sonnet") {
		t.Fatal("expected acquire to still succeed after over-releasing")
	}
}

func TestReportRateLimitBackoffFormula(t *testing.T) {
	base := 10 * time.Second
	max := 100 * time.Second
	l := New(map[string]int{"claude:sonnet": 1}, base, max)

	now := time.Unix(1000, 0)
	withClock(l, &now)

	l.ReportRateLimit("claude:sonnet") // streak=1: base*2^0 = 10s
	want := now.Add(10 * time.Second)
	if got := l.BackoffUntil("claude:sonnet"); !got.Equal(want) {
		t.Errorf("streak 1: backoffUntil = %v, want %v", got, want)
	}

	l.ReportRateLimit("claude:sonnet") // streak=2: base*2^1 = 20s
	want = now.Add(20 * time.Second)
	if got := l.BackoffUntil("claude:sonnet"); !got.Equal(want) {
		t.Errorf("streak 2: backoffUntil = %v, want %v", got, want)
	}

	l.ReportRateLimit("claude:sonnet") // streak=3: base*2^2 = 40s
	want = now.Add(40 * time.Second)
	if got := l.BackoffUntil("claude:sonnet"); !got.Equal(want) {
		t.Errorf("streak 3: backoffUntil = %v, want %v", got, want)
	}
}

func TestReportRateLimitClampsToMax(t *testing.T) {
	base := 10 * time.Second
	max := 25 * time.Second
	l := New(map[string]int{"claude:sonnet": 1}, base, max)

	now := time.Unix(2000, 0)
	withClock(l, &now)

	l.ReportRateLimit("claude:sonnet") // 10s
	l.ReportRateLimit("claude:sonnet") // 20s
	l.ReportRateLimit("claude:sonnet") // would be 40s, clamped to 25s

	want := now.Add(max)
	if got := l.BackoffUntil("claude:sonnet"); !got.Equal(want) {
		t.Errorf("expected backoff clamped to max %v, got %v", want, got)
	}
}

func TestReportSuccessResetsStreakAndBackoff(t *testing.T) {
	l := New(map[string]int{"claude:sonnet": 1}, time.Second, time.Minute)
	now := time.Unix(3000, 0)
	withClock(l, &now)

	l.ReportRateLimit("claude:sonnet")
	if l.BackoffUntil("claude:sonnet").IsZero() {
		t.Fatal("expected backoff to be set after a rate-limit report")
	}

	l.ReportSuccess("claude:sonnet")
	if !l.BackoffUntil("claude:sonnet").IsZero() {
		t.Fatal("expected ReportSuccess to clear backoff")
	}

	// streak reset means the next rate limit is treated as streak 1 again.
	l.ReportRateLimit("claude:sonnet")
	want := now.Add(time.Second) // base*2^0
	if got := l.BackoffUntil("claude:sonnet"); !got.Equal(want) {
		t.Errorf("expected streak reset to restart backoff at base, got %v want %v", got, want)
	}
}

func TestTryAcquireBlockedDuringBackoff(t *testing.T) {
	l := New(map[string]int{"claude:sonnet": 1}, time.Minute, time.Hour)
	now := time.Unix(4000, 0)
	withClock(l, &now)

	l.ReportRateLimit("claude:sonnet")
	if l.TryAcquire("claude:sonnet") {
		t.Fatal("expected acquire to fail while in backoff")
	}
	if l.Available("claude:sonnet") {
		t.Fatal("expected Available to report false while in backoff")
	}

	now = now.Add(time.Hour)
	if !l.TryAcquire("claude:sonnet") {
		t.Fatal("expected acquire to succeed once backoff has elapsed")
	}
}

func TestIsRateLimitedClosedPhraseList(t *testing.T) {
	positive := []string{
		"Error: rate_limit hit",
		"Rate limit exceeded, try later",
		"HTTP 429 Too Many Requests",
		"quota exceeded for this billing period",
		"too many requests, slow down",
	}
	for _, p := range positive {
		if !IsRateLimited(p) {
			t.Errorf("expected %q to be detected as rate limited", p)
		}
	}

	negative := []string{
		"compile error: undefined symbol",
		"task completed successfully",
		"",
	}
	for _, n := range negative {
		if IsRateLimited(n) {
			t.Errorf("expected %q to NOT be detected as rate limited", n)
		}
	}
}
