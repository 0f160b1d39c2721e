package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/discordauth/internal/discord"
	"github.com/hitoshi/discordauth/internal/metrics"
	"github.com/hitoshi/discordauth/internal/middleware"
)

const (
	verifyOutcomeOK           = "ok"
	verifyOutcomeNoToken      = "no_token"
	verifyOutcomeInvalidToken = "invalid_token"
	verifyOutcomeServerError  = "server_error"
)

// VerifyHandler はBearerトークンをDiscordに問い合わせて検証するハンドラー。
type VerifyHandler struct {
	fetcher ProfileFetcher
	metrics metrics.MetricsCollector
}

// NewVerifyHandler はVerifyHandlerを生成する。
func NewVerifyHandler(fetcher ProfileFetcher, m metrics.MetricsCollector) *VerifyHandler {
	return &VerifyHandler{
		fetcher: fetcher,
		metrics: m,
	}
}

// Verify はトークンが有効であればDiscordのプロフィールをそのまま返す。
// GET /api/verify (Authorization: Bearer <token>)
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		h.metrics.RecordVerify(verifyOutcomeNoToken)
		middleware.WriteError(w, http.StatusUnauthorized, middleware.MessageNoToken)
		return
	}

	profile, err := h.fetcher.FetchProfile(r.Context(), token)
	switch {
	case err == nil:
		h.metrics.RecordVerify(verifyOutcomeOK)
		middleware.WriteRawJSON(w, http.StatusOK, profile)
	case errors.Is(err, discord.ErrProfileRejected):
		slog.Warn("token rejected by discord", slog.String("error", err.Error()))
		h.metrics.RecordVerify(verifyOutcomeInvalidToken)
		middleware.WriteError(w, http.StatusUnauthorized, middleware.MessageInvalidToken)
	default:
		slog.Error("token verification failed", slog.String("error", err.Error()))
		h.metrics.RecordVerify(verifyOutcomeServerError)
		middleware.WriteError(w, http.StatusInternalServerError, middleware.MessageServerError)
	}
}

// bearerToken は"Bearer <token>"形式のヘッダーからトークンを取り出す。
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
