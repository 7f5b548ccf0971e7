package middleware

import (
	"net"
	"net/http"

	"github.com/unrolled/secure"
)

// HTTPSRedirect sends plain-HTTP requests to the HTTPS listener at httpsAddr
// (":8443" or "host:8443"). An empty httpsAddr disables the redirect.
// Requests already marked https by a proxy (X-Forwarded-Proto) pass through.
func HTTPSRedirect(httpsAddr string) func(http.Handler) http.Handler {
	if httpsAddr == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	_, port, err := net.SplitHostPort(httpsAddr)
	if err != nil {
		port = ""
	}

	hostFn := secure.SSLHostFunc(func(host string) string {
		h, _, splitErr := net.SplitHostPort(host)
		if splitErr != nil {
			h = host
		}
		if port == "" || port == "443" {
			return h
		}
		return net.JoinHostPort(h, port)
	})

	sec := secure.New(secure.Options{
		SSLRedirect:          true,
		SSLTemporaryRedirect: true,
		SSLProxyHeaders:      map[string]string{"X-Forwarded-Proto": "https"},
		SSLHostFunc:          &hostFn,
	})
	return sec.Handler
}
