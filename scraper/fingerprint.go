package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
)

// chromeH1Spec returns a fresh Chrome ClientHello with ALPN limited to
// http/1.1, since http.Transport cannot speak h2 over a utls connection.
// ApplyPreset mutates the extensions it is given, so every dial needs its own.
func chromeH1Spec() (*utls.ClientHelloSpec, error) {
	spec, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
	if err != nil {
		return nil, err
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			break
		}
	}
	return &spec, nil
}

// NewFingerprintTransport returns a transport whose TLS handshake looks like Chrome's.
func NewFingerprintTransport(timeout time.Duration) *http.Transport {
	return newFingerprintTransport(timeout, &utls.Config{})
}

func newFingerprintTransport(timeout time.Duration, base *utls.Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: timeout}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConfig := base.Clone()
			tlsConfig.ServerName = host

			var tlsConn *utls.UConn
			if spec, err := chromeH1Spec(); err == nil {
				tlsConn = utls.UClient(conn, tlsConfig, utls.HelloCustom)
				if err := tlsConn.ApplyPreset(spec); err != nil {
					conn.Close()
					return nil, fmt.Errorf("fingerprint: apply tls spec: %w", err)
				}
			} else {
				tlsConfig.NextProtos = []string{"http/1.1"}
				tlsConn = utls.UClient(conn, tlsConfig, utls.HelloChrome_Auto)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2:     false,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
}
