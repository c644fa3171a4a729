package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testLocalhostAddr  = "127.0.0.1:12345"
	testPrivateNetCIDR = "192.168.1.0/24"
	testProxyAddr      = "10.0.0.1:12345"
	testProxyCIDR      = "10.0.0.0/8"
)

type cidrCase struct {
	name          string
	allowlist     []string
	trusted       []string
	remoteAddr    string
	xForwardedFor string
	xRealIP       string
	expectCode    int
}

func runCIDRCases(t *testing.T, tests []cidrCase) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			handler := CIDRMiddleware(tt.allowlist, tt.trusted)(func(c echo.Context) error {
				return c.String(http.StatusOK, "OK")
			})

			req := httptest.NewRequest(http.MethodGet, "/_sys/queue", http.NoBody)
			req.RemoteAddr = tt.remoteAddr
			if tt.xForwardedFor != "" {
				req.Header.Set(HeaderXForwardedFor, tt.xForwardedFor)
			}
			if tt.xRealIP != "" {
				req.Header.Set(HeaderXRealIP, tt.xRealIP)
			}
			rec := httptest.NewRecorder()

			err := handler(e.NewContext(req, rec))

			if tt.expectCode == http.StatusOK {
				require.NoError(t, err)
				assert.Equal(t, http.StatusOK, rec.Code)
				return
			}
			var httpErr *echo.HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.expectCode, httpErr.Code)
		})
	}
}

func TestCIDRMiddlewareLocalhostOnly(t *testing.T) {
	runCIDRCases(t, []cidrCase{
		{name: "allows localhost IPv4", remoteAddr: testLocalhostAddr, expectCode: http.StatusOK},
		{name: "allows localhost IPv6", remoteAddr: "[::1]:12345", expectCode: http.StatusOK},
		{name: "blocks private IP", remoteAddr: "192.168.1.100:12345", expectCode: http.StatusForbidden},
		{name: "blocks public IP", remoteAddr: "8.8.8.8:12345", expectCode: http.StatusForbidden},
		{name: "blocks unparsable peer", remoteAddr: "not-an-ip", expectCode: http.StatusForbidden},
	})
}

func TestCIDRMiddlewareAllowlist(t *testing.T) {
	runCIDRCases(t, []cidrCase{
		{name: "allows IP in range", allowlist: []string{testPrivateNetCIDR}, remoteAddr: "192.168.1.100:12345", expectCode: http.StatusOK},
		{name: "blocks IP outside range", allowlist: []string{testPrivateNetCIDR}, remoteAddr: "192.168.2.100:12345", expectCode: http.StatusForbidden},
		{name: "allows any of several ranges", allowlist: []string{testPrivateNetCIDR, testProxyCIDR}, remoteAddr: "10.1.2.3:12345", expectCode: http.StatusOK},
		{name: "allows bare IPv4 entry", allowlist: []string{"203.0.113.42"}, remoteAddr: "203.0.113.42:12345", expectCode: http.StatusOK},
		{name: "bare IPv4 entry is exact", allowlist: []string{"203.0.113.42"}, remoteAddr: "203.0.113.43:12345", expectCode: http.StatusForbidden},
		{name: "allows bare IPv6 entry", allowlist: []string{"2001:db8::1"}, remoteAddr: "[2001:db8::1]:443", expectCode: http.StatusOK},
		{name: "localhost not implied", allowlist: []string{testPrivateNetCIDR}, remoteAddr: testLocalhostAddr, expectCode: http.StatusForbidden},
		{name: "invalid entries fall back to localhost", allowlist: []string{"nope", "also/bad"}, remoteAddr: testLocalhostAddr, expectCode: http.StatusOK},
		{name: "invalid entries block others", allowlist: []string{"nope"}, remoteAddr: "192.168.1.1:12345", expectCode: http.StatusForbidden},
	})
}

func TestCIDRMiddlewareProxyHeaders(t *testing.T) {
	runCIDRCases(t, []cidrCase{
		{
			name:          "ignores X-Forwarded-For without trusted proxies",
			allowlist:     []string{testPrivateNetCIDR},
			remoteAddr:    testProxyAddr,
			xForwardedFor: "192.168.1.100",
			expectCode:    http.StatusForbidden,
		},
		{
			name:          "uses first untrusted hop from trusted proxy",
			allowlist:     []string{testPrivateNetCIDR},
			trusted:       []string{testProxyCIDR},
			remoteAddr:    testProxyAddr,
			xForwardedFor: "192.168.1.100, 10.0.0.5",
			expectCode:    http.StatusOK,
		},
		{
			name:          "spoofed leftmost hop is ignored",
			allowlist:     []string{testPrivateNetCIDR},
			trusted:       []string{testProxyCIDR},
			remoteAddr:    testProxyAddr,
			xForwardedFor: "192.168.1.100, 203.0.113.9",
			expectCode:    http.StatusForbidden,
		},
		{
			name:       "uses X-Real-IP from trusted proxy",
			allowlist:  []string{testPrivateNetCIDR},
			trusted:    []string{testProxyCIDR},
			remoteAddr: testProxyAddr,
			xRealIP:    "192.168.1.100",
			expectCode: http.StatusOK,
		},
		{
			name:          "untrusted peer cannot claim an allowed address",
			allowlist:     []string{testPrivateNetCIDR},
			trusted:       []string{testProxyCIDR},
			remoteAddr:    "203.0.113.1:12345",
			xForwardedFor: "192.168.1.100",
			expectCode:    http.StatusForbidden,
		},
	})
}
