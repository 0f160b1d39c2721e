// Package security はDiscord APIへの外向き通信の安全策を提供する。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// blockedNetworks はAPIベースURLとして許可しないネットワーク範囲。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		networks = append(networks, network)
	}
	return networks
}

// ErrDisallowedDestination は許可されていない宛先へのリクエストを示す。
var ErrDisallowedDestination = errors.New("destination not allowed")

// NewProviderClient はDiscord API呼び出し用のHTTPクライアントを生成する。
// 接続先はapiBaseURLのホストのhttpsの443番ポートに限定される。
// 宛先の検証はリダイレクト先を含む全リクエストで行う。
// safeurlはDNS解決後のIPアドレスもDialerで検証するため、
// プライベートIPやメタデータIPへの接続はDNS再バインディング経由でもブロックされる。
func NewProviderClient(apiBaseURL string, timeout time.Duration) (*http.Client, error) {
	if err := ValidateBaseURL(apiBaseURL); err != nil {
		return nil, err
	}
	u, _ := url.Parse(apiBaseURL)

	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		SetAllowedHosts(u.Hostname()).
		Build()

	client := safeurl.Client(config).Client
	client.Transport = &allowlistTransport{
		host: u.Hostname(),
		next: client.Transport,
	}
	return client, nil
}

// allowlistTransport は許可ホスト以外へのリクエストを接続前に拒否する。
type allowlistTransport struct {
	host string
	next http.RoundTripper
}

func (t *allowlistTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := checkDestination(req.URL, t.host); err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}
	return t.next.RoundTrip(req)
}

// checkDestination はURLがhttpsかつ許可ホストの443番ポート宛てであるかを検証する。
func checkDestination(u *url.URL, allowedHost string) error {
	if !strings.EqualFold(u.Scheme, "https") {
		return fmt.Errorf("%w: scheme %q", ErrDisallowedDestination, u.Scheme)
	}
	if !strings.EqualFold(u.Hostname(), allowedHost) {
		return fmt.Errorf("%w: host %q", ErrDisallowedDestination, u.Hostname())
	}
	if port := u.Port(); port != "" && port != "443" {
		return fmt.Errorf("%w: port %s", ErrDisallowedDestination, port)
	}
	return nil
}

// ValidateBaseURL はAPIベースURLを静的に検証する。
// https以外のスキーム、空ホスト、ブロック対象のIPアドレスやlocalhostはエラーとする。
func ValidateBaseURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("disallowed scheme: %q (allowed: https)", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip.String())
			}
		}
	}

	return nil
}
