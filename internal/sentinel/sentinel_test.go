package sentinel

import "testing"

func newTestSentinel() *Sentinel {
	return New(
		[]string{"rate limit", "throttl", "blacklist", "too many messages"},
		[]int{421, 450, 451, 452},
	)
}

func TestInspect(t *testing.T) {
	s := newTestSentinel()

	tests := []struct {
		name     string
		errText  string
		wantHit  bool
		wantCode int
	}{
		{
			name:     "rate limit with code",
			errText:  "421 4.7.0 Rate limit exceeded, try again later",
			wantHit:  true,
			wantCode: 421,
		},
		{
			name:    "throttled without code",
			errText: "connection throttled by provider",
			wantHit: true,
		},
		{
			name:     "blacklist",
			errText:  "450 blocked: IP found on blacklist",
			wantHit:  true,
			wantCode: 450,
		},
		{
			name:    "ordinary permanent failure",
			errText: "550 5.1.1 mailbox unavailable",
			wantHit: false,
		},
		{
			name:    "ordinary temporary failure",
			errText: "451 requested action aborted: local error in processing",
			wantHit: false,
		},
		{
			name:    "connection refused",
			errText: "dial tcp 10.0.0.1:587: connection refused",
			wantHit: false,
		},
		{
			name:    "empty",
			errText: "",
			wantHit: false,
		},
		{
			name:    "case insensitive keyword",
			errText: "TOO MANY MESSAGES from this sender",
			wantHit: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signal := s.Inspect(tt.errText)
			if (signal != nil) != tt.wantHit {
				t.Fatalf("Inspect(%q) = %v, want hit=%v", tt.errText, signal, tt.wantHit)
			}
			if signal != nil && signal.Code != tt.wantCode {
				t.Errorf("Inspect(%q).Code = %v, want %v", tt.errText, signal.Code, tt.wantCode)
			}
		})
	}
}

func TestSignalString(t *testing.T) {
	s := newTestSentinel()

	signal := s.Inspect("421 rate limit exceeded")
	if signal == nil {
		t.Fatal("expected signal")
	}
	if signal.String() == "" {
		t.Error("String() returned empty")
	}
}
