package security

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

// TestNewProviderClient はDiscord向けHTTPクライアントの生成をテストする。
func TestNewProviderClient(t *testing.T) {
	client, err := NewProviderClient("https://discord.com/api", 10*time.Second)
	if err != nil {
		t.Fatalf("NewProviderClient() error = %v", err)
	}
	if client == nil {
		t.Fatal("NewProviderClient() returned nil")
	}
	if client.Timeout != 10*time.Second {
		t.Errorf("expected timeout %v, got %v", 10*time.Second, client.Timeout)
	}
}

// TestNewProviderClientHasTransport はカスタムTransportが設定されていることをテストする。
func TestNewProviderClientHasTransport(t *testing.T) {
	client, err := NewProviderClient("https://discord.com/api", 5*time.Second)
	if err != nil {
		t.Fatalf("NewProviderClient() error = %v", err)
	}

	if client.Transport == nil {
		t.Fatal("expected custom Transport to be set, got nil")
	}
	if client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport, got http.DefaultTransport")
	}
}

// TestNewProviderClientBlocksOtherHosts は許可ホスト以外の公開ホストへのリクエストが
// 接続前に拒否されることをテストする。
func TestNewProviderClientBlocksOtherHosts(t *testing.T) {
	client, err := NewProviderClient("https://discord.com/api", 5*time.Second)
	if err != nil {
		t.Fatalf("NewProviderClient() error = %v", err)
	}

	for _, target := range []string{
		"https://1.1.1.1/",
		"https://example.org/",
		"http://discord.com/api/users/@me",
		"https://discord.com:8443/api/users/@me",
	} {
		t.Run(target, func(t *testing.T) {
			_, err := client.Get(target)
			if !errors.Is(err, ErrDisallowedDestination) {
				t.Errorf("client.Get(%q) error = %v, want ErrDisallowedDestination", target, err)
			}
		})
	}
}

// stubRoundTripper は呼び出し回数を記録し、固定のレスポンスを返す。
type stubRoundTripper struct {
	calls    int
	redirect string
}

func (s *stubRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	s.calls++
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("{}")),
		Request:    req,
	}
	if s.redirect != "" && req.URL.Hostname() == "discord.com" {
		resp.StatusCode = http.StatusFound
		resp.Header.Set("Location", s.redirect)
	}
	return resp, nil
}

// TestAllowlistTransport_AllowsConfiguredHost は許可ホストへのリクエストが通過することをテストする。
func TestAllowlistTransport_AllowsConfiguredHost(t *testing.T) {
	stub := &stubRoundTripper{}
	client := &http.Client{Transport: &allowlistTransport{host: "discord.com", next: stub}}

	resp, err := client.Get("https://discord.com/api/users/@me")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if stub.calls != 1 {
		t.Errorf("calls = %d, want 1", stub.calls)
	}
}

// TestAllowlistTransport_BlocksRedirectToOtherHost はリダイレクト先が許可ホスト外の場合に
// 後続のリクエストが送信されないことをテストする。
func TestAllowlistTransport_BlocksRedirectToOtherHost(t *testing.T) {
	stub := &stubRoundTripper{redirect: "https://attacker.example.net/collect"}
	client := &http.Client{Transport: &allowlistTransport{host: "discord.com", next: stub}}

	_, err := client.Get("https://discord.com/api/users/@me")
	if !errors.Is(err, ErrDisallowedDestination) {
		t.Fatalf("error = %v, want ErrDisallowedDestination", err)
	}
	if stub.calls != 1 {
		t.Errorf("calls = %d, want 1 (redirect target must not be requested)", stub.calls)
	}
}

// TestNewProviderClientRejectsInvalidBaseURL は不正なベースURLでエラーになることをテストする。
func TestNewProviderClientRejectsInvalidBaseURL(t *testing.T) {
	if _, err := NewProviderClient("http://127.0.0.1:8080/api", time.Second); err == nil {
		t.Fatal("expected error for loopback base URL")
	}
}

// TestValidateBaseURL_Allowed は公開httpsのURLが許可されることをテストする。
func TestValidateBaseURL_Allowed(t *testing.T) {
	for _, u := range []string{
		"https://discord.com/api",
		"https://discord.com/api/v10",
		"https://canary.discord.com/api",
	} {
		t.Run(u, func(t *testing.T) {
			if err := ValidateBaseURL(u); err != nil {
				t.Errorf("ValidateBaseURL(%q) returned error: %v", u, err)
			}
		})
	}
}

// TestValidateBaseURL_Rejected は危険・不正なURLが拒否されることをテストする。
func TestValidateBaseURL_Rejected(t *testing.T) {
	for _, u := range []string{
		"",
		"not-a-url",
		"http://discord.com/api",
		"ftp://discord.com/api",
		"https://localhost/api",
		"https://127.0.0.1/api",
		"https://10.0.0.1/api",
		"https://192.168.1.100/api",
		"https://169.254.169.254/latest/meta-data/",
		"https://[::1]/api",
	} {
		t.Run(u, func(t *testing.T) {
			if err := ValidateBaseURL(u); err == nil {
				t.Errorf("ValidateBaseURL(%q) should have returned error", u)
			}
		})
	}
}
