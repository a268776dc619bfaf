package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIPFromRequest(t *testing.T) {
	cases := map[string]struct {
		setup func(r *http.Request)
		want  string
	}{
		"forwarded chain": {setup: func(r *http.Request) { r.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2") }, want: "10.0.0.1"},
		"real ip":         {setup: func(r *http.Request) { r.Header.Set("X-Real-IP", "10.0.0.3") }, want: "10.0.0.3"},
		"remote ipv4":     {setup: func(r *http.Request) { r.RemoteAddr = "192.168.1.5:5555" }, want: "192.168.1.5"},
		"remote ipv6":     {setup: func(r *http.Request) { r.RemoteAddr = "[::1]:5555" }, want: "::1"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.setup(req)
			assert.Equal(t, tc.want, ClientIPFromRequest(req))
		})
	}
}

func TestDeviceLabel(t *testing.T) {
	chrome := "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	assert.Equal(t, "Chrome on Linux", DeviceLabel(chrome))
	assert.Equal(t, "unknown", DeviceLabel(""))
	assert.Equal(t, "bot", DeviceLabel("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"))
}

func TestClientMetadataMiddleware(t *testing.T) {
	var ip, device string
	h := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip = GetClientIP(r.Context())
		device = GetDevice(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", "10.1.1.1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "10.1.1.1", ip)
	assert.Equal(t, "unknown", device)
}
