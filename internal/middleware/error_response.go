package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// クライアントに返すエラーメッセージ。内部の原因はログにのみ記録する。
const (
	MessageNoToken      = "No token provided"
	MessageInvalidToken = "Invalid token"
	MessageServerError  = "Server error"
)

// ErrorResponseBody はAPIエラーレスポンスのフォーマット。
type ErrorResponseBody struct {
	Error string `json:"error"`
}

// WriteJSON はvをJSONとしてステータスコード付きで書き込む。
// 末尾に改行は付けない。
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode json response", slog.String("error", err.Error()))
		statusCode = http.StatusInternalServerError
		body = []byte(`{"error":"` + MessageServerError + `"}`)
	}
	WriteRawJSON(w, statusCode, body)
}

// WriteRawJSON はエンコード済みのJSONをそのまま書き込む。
func WriteRawJSON(w http.ResponseWriter, statusCode int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	w.Write(body)
}

// WriteError は{"error": message}形式のエラーレスポンスを書き込む。
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponseBody{Error: message})
}
