package http

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"remote addr only", "203.0.113.5:4123", "", "", "203.0.113.5"},
		{"x-forwarded-for single", "10.0.0.1:80", "198.51.100.7", "", "198.51.100.7"},
		{"x-forwarded-for chain", "10.0.0.1:80", "198.51.100.7, 10.0.0.2, 10.0.0.3", "", "198.51.100.7"},
		{"x-real-ip", "10.0.0.1:80", "", "198.51.100.9", "198.51.100.9"},
		{"xff wins over xri", "10.0.0.1:80", "198.51.100.7", "198.51.100.9", "198.51.100.7"},
		{"malformed remote addr", "not-a-hostport", "", "", "not-a-hostport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := clientIP(r); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if got := bearerToken(r); got != "" {
		t.Errorf("no header: got %q", got)
	}

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if got := bearerToken(r); got != "" {
		t.Errorf("basic auth: got %q", got)
	}

	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	if got := bearerToken(r); got != "abc.def.ghi" {
		t.Errorf("bearer: got %q", got)
	}
}
