// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/discordauth/internal/discord"
	"github.com/hitoshi/discordauth/internal/metrics"
	"golang.org/x/oauth2"
)

// フロントエンドへのリダイレクトに付与するerrorパラメータの値。
const (
	CallbackErrorNoCode = "no_code"
	CallbackErrorToken  = "token_error"
	CallbackErrorUser   = "user_error"
	CallbackErrorAuth   = "auth_error"

	callbackOutcomeSuccess = "success"
)

// ProfileFetcher はアクセストークンでユーザープロフィールを取得する。
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, accessToken string) (discord.Profile, error)
}

// DiscordClient は認証ハンドラーが必要とするDiscord APIのインターフェース。
type DiscordClient interface {
	ProfileFetcher
	LoginURL() string
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
}

// AuthHandler はDiscord OAuthフローのHTTPハンドラー。
type AuthHandler struct {
	client      DiscordClient
	frontendURL string
	metrics     metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(client DiscordClient, frontendURL string, m metrics.MetricsCollector) *AuthHandler {
	return &AuthHandler{
		client:      client,
		frontendURL: frontendURL,
		metrics:     m,
	}
}

// Login はDiscordの認可画面へリダイレクトする。
// GET /api/auth/discord/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.client.LoginURL(), http.StatusFound)
}

// Callback はOAuthコールバックを処理し、結果をクエリパラメータに載せてフロントエンドへリダイレクトする。
// 失敗時もHTTPエラーは返さず、errorパラメータ付きでリダイレクトする。
// GET /api/auth/discord/callback?code=xxx
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		slog.Warn("oauth callback without code")
		h.redirectWithError(w, r, CallbackErrorNoCode)
		return
	}

	token, profile, err := h.exchange(r.Context(), code)
	if err != nil {
		reason := classifyCallbackError(err)
		slog.Error("oauth callback failed",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		h.redirectWithError(w, r, reason)
		return
	}

	params := url.Values{
		"token": {token.AccessToken},
		"user":  {string(profile)},
	}
	target := buildRedirectURL(h.frontendURL, params)

	params.Set("token", maskToken(token.AccessToken))
	slog.Info("redirecting to frontend",
		slog.String("target", buildRedirectURL(h.frontendURL, params)),
	)

	h.metrics.RecordCallback(callbackOutcomeSuccess)
	http.Redirect(w, r, target, http.StatusFound)
}

// exchange は認可コードのトークン交換とプロフィール取得を順に実行する。
// トークン交換に失敗した場合はプロフィール取得を行わない。
func (h *AuthHandler) exchange(ctx context.Context, code string) (*oauth2.Token, discord.Profile, error) {
	token, err := h.client.ExchangeCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	profile, err := h.client.FetchProfile(ctx, token.AccessToken)
	if err != nil {
		return nil, nil, err
	}

	return token, profile, nil
}

func (h *AuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, reason string) {
	h.metrics.RecordCallback(reason)
	http.Redirect(w, r, buildRedirectURL(h.frontendURL, url.Values{"error": {reason}}), http.StatusFound)
}

// classifyCallbackError はエラーをerrorパラメータの値に変換する。
func classifyCallbackError(err error) string {
	switch {
	case errors.Is(err, discord.ErrTokenRejected):
		return CallbackErrorToken
	case errors.Is(err, discord.ErrProfileRejected):
		return CallbackErrorUser
	default:
		return CallbackErrorAuth
	}
}

// buildRedirectURL はフロントエンドURLにクエリパラメータを付与する。
// フロントエンドURLが既にクエリを持つ場合はマージする。
// 空白は"+"ではなく"%20"にエンコードし、decodeURIComponentでも復元できるようにする。
func buildRedirectURL(base string, params url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?" + encodeQuery(params)
	}

	q := u.Query()
	for k, v := range params {
		q[k] = v
	}
	u.RawQuery = encodeQuery(q)
	return u.String()
}

// encodeQuery はキー順にソートしてクエリ文字列を生成する。
// リテラルの"+"は"%2B"になるため、置換しても値は変わらない。
func encodeQuery(v url.Values) string {
	return strings.ReplaceAll(v.Encode(), "+", "%20")
}

// maskToken はログ出力用にトークンの先頭4文字以外を伏せる。
func maskToken(token string) string {
	if len(token) <= 4 {
		return "***"
	}
	return token[:4] + "***"
}
