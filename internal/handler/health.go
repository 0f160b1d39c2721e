package handler

import (
	"net/http"

	"github.com/hitoshi/discordauth/internal/middleware"
)

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Health はサービスの稼働状態を返す。
// GET /
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, healthResponse{
		Status:  "online",
		Message: "Discord Auth Backend Running",
	})
}
