// Package discord はDiscord OAuth2 APIのクライアントを提供する。
// 認可コードのアクセストークンへの交換と、ユーザープロフィールの取得を行う。
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// DefaultAPIBaseURL はDiscord APIのベースURL。
	DefaultAPIBaseURL = "https://discord.com/api"
	// Scope は要求するOAuth2スコープ。ユーザーの基本情報のみ。
	Scope = "identify"

	authorizePath = "/oauth2/authorize"
	tokenPath     = "/oauth2/token"
	userPath      = "/users/@me"

	// maxProfileSize はプロフィールレスポンスの読み取り上限（1MB）。
	maxProfileSize = 1 << 20
)

// 計測用のオペレーション名
const (
	OperationExchangeCode = "exchange_code"
	OperationFetchProfile = "fetch_profile"
)

var (
	// ErrTokenRejected はトークンエンドポイントがerrorフィールドを返したことを示す。
	ErrTokenRejected = errors.New("discord rejected authorization code")
	// ErrProfileRejected はユーザーエンドポイントがアクセストークンを拒否したことを示す。
	ErrProfileRejected = errors.New("discord rejected access token")
)

// Profile は/users/@meのレスポンスJSONをそのまま保持する。
// 空白を除去したコンパクトな形式で保持する。
type Profile json.RawMessage

// LatencyRecorder はDiscord API呼び出しのレイテンシを記録する。
type LatencyRecorder interface {
	ObserveProviderRequest(operation string, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) ObserveProviderRequest(string, time.Duration) {}

// Config はDiscordクライアントの設定。
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// テスト用にオーバーライド可能なURL
	APIBaseURL string

	// nilの場合はhttp.DefaultClientを使用する
	HTTPClient *http.Client
	// nilの場合は記録しない
	Recorder LatencyRecorder
}

// Client はDiscord OAuth2 APIを呼び出す。
type Client struct {
	oauth      *oauth2.Config
	userURL    string
	httpClient *http.Client
	recorder   LatencyRecorder
}

// NewClient はClientを生成する。
func NewClient(cfg Config) *Client {
	base := strings.TrimRight(cfg.APIBaseURL, "/")
	if base == "" {
		base = DefaultAPIBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	var recorder LatencyRecorder = noopRecorder{}
	if cfg.Recorder != nil {
		recorder = cfg.Recorder
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{Scope},
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + authorizePath,
				TokenURL:  base + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userURL:    base + userPath,
		httpClient: httpClient,
		recorder:   recorder,
	}
}

// LoginURL はDiscordの認可画面のURLを返す。
// stateパラメータは付与しない。
func (c *Client) LoginURL() string {
	return c.oauth.AuthCodeURL("")
}

// ExchangeCode は認可コードをアクセストークンに交換する。
// トークンエンドポイントのレスポンスにerrorフィールドが含まれる場合は
// ErrTokenRejectedをラップしたエラーを返す。それ以外の失敗は通信・解析エラーとなる。
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	start := time.Now()
	token, err := c.oauth.Exchange(ctx, code, oauth2.SetAuthURLParam("scope", Scope))
	c.recorder.ObserveProviderRequest(OperationExchangeCode, time.Since(start))

	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.ErrorCode != "" {
			return nil, fmt.Errorf("%w: %s %s", ErrTokenRejected, rErr.ErrorCode, rErr.ErrorDescription)
		}
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	return token, nil
}

// FetchProfile はアクセストークンでユーザープロフィールを取得する。
// レスポンスに空でないerrorフィールドが含まれる場合（ステータスは問わない）、
// または4xxが返った場合はErrProfileRejectedをラップしたエラーを返す。
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	defer func() {
		c.recorder.ObserveProviderRequest(OperationFetchProfile, time.Since(start))
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read user response: %w", err)
	}

	// ステータスに関わらず、errorフィールドがあれば拒否として扱う
	var fields map[string]json.RawMessage
	parseErr := json.Unmarshal(body, &fields)
	if parseErr == nil && hasErrorField(fields) {
		return nil, fmt.Errorf("%w: status %d: %s", ErrProfileRejected, resp.StatusCode, fields["error"])
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, fmt.Errorf("%w: status %d", ErrProfileRejected, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("user request failed with status %d", resp.StatusCode)
	}

	if parseErr != nil {
		return nil, fmt.Errorf("failed to parse user response: %w", parseErr)
	}
	if fields == nil {
		return nil, errors.New("empty user response")
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return nil, fmt.Errorf("failed to compact user response: %w", err)
	}

	return Profile(compact.Bytes()), nil
}

// hasErrorField はerrorフィールドが有効な値を持つかを返す。
// null、空文字列、false、0は値なしとみなす。
func hasErrorField(fields map[string]json.RawMessage) bool {
	raw, ok := fields["error"]
	if !ok {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	case float64:
		return val != 0
	default:
		return true
	}
}
