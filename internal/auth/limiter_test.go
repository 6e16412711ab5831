package auth

import (
	"net/http/httptest"
	"testing"
)

func TestLoginLimiterBurst(t *testing.T) {
	l := NewLoginLimiter(1, 2)

	if !l.Allow("10.0.0.1") {
		t.Error("first attempt should be allowed")
	}
	if !l.Allow("10.0.0.1") {
		t.Error("second attempt should be allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Error("third attempt should be throttled")
	}
	// Other addresses keep their own bucket.
	if !l.Allow("10.0.0.2") {
		t.Error("different IP should not share the bucket")
	}
}

func TestLoginLimiterDefaults(t *testing.T) {
	l := NewLoginLimiter(0, 0)
	for i := 0; i < 5; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("attempt %d should be within the default burst", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Error("sixth attempt should exceed the default burst")
	}
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "203.0.113.7:51234",
			want:       "203.0.113.7",
		},
		{
			name:       "x-forwarded-for first hop",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.4, 10.0.0.1"},
			want:       "198.51.100.4",
		},
		{
			name:       "invalid forwarded falls back to real ip",
			remoteAddr: "10.0.0.1:80",
			headers: map[string]string{
				"X-Forwarded-For": "not-an-ip",
				"X-Real-IP":       "198.51.100.9",
			},
			want: "198.51.100.9",
		},
		{
			name:       "unparseable remote addr returned raw",
			remoteAddr: "bogus",
			want:       "bogus",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/admin/login", nil)
			req.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req); got != tc.want {
				t.Errorf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
