package testutil

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ErrorBody is the API error payload.
type ErrorBody struct {
	Message    string  `json:"message"`
	Code       int     `json:"code"`
	RetryAfter float64 `json:"retry_after,omitempty"`
	Global     bool    `json:"global,omitempty"`
}

// ReplyJSON writes a JSON response with the given status.
func ReplyJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// ReplyMessage writes a successful message-create response.
func ReplyMessage(w http.ResponseWriter, id, channelID, content string) {
	ReplyJSON(w, http.StatusOK, map[string]any{
		"id":         id,
		"channel_id": channelID,
		"content":    content,
		"timestamp":  "2024-01-02T03:04:05.000000+00:00",
		"author": map[string]any{
			"id":       TestAuthorID,
			"username": "relay",
		},
	})
}

// ReplyEcho writes a successful response echoing the posted content.
func ReplyEcho(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		ReplyMessage(w, id, channelFromPath(r.URL.Path), body.Content)
	}
}

// ReplyNoContent writes a 204 with an empty body.
func ReplyNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// ReplyError writes an API error response.
func ReplyError(w http.ResponseWriter, status, code int, message string) {
	ReplyJSON(w, status, ErrorBody{Message: message, Code: code})
}

// ReplyRateLimit writes a 429 response with retry_after in both JSON and HTTP header.
func ReplyRateLimit(w http.ResponseWriter, retryAfter float64) {
	w.Header().Set("Retry-After", strconv.FormatFloat(retryAfter, 'f', -1, 64))
	ReplyJSON(w, http.StatusTooManyRequests, ErrorBody{
		Message:    "You are being rate limited.",
		RetryAfter: retryAfter,
	})
}

// ReplyRateLimitHeaderOnly writes a 429 response with retry_after ONLY in the HTTP header.
// Useful for testing HTTP header fallback parsing.
func ReplyRateLimitHeaderOnly(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	ReplyJSON(w, http.StatusTooManyRequests, ErrorBody{Message: "You are being rate limited."})
}

// ReplyServerError writes a 5xx response with a plain-text body, as proxies do.
func ReplyServerError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(status)
	_, _ = w.Write([]byte("<html><body>" + http.StatusText(status) + "</body></html>"))
}

// ReplyUnauthorized writes a 401 error.
func ReplyUnauthorized(w http.ResponseWriter) {
	ReplyError(w, http.StatusUnauthorized, 0, "401: Unauthorized")
}

// ReplyUnknownChannel writes a 404 Unknown Channel error.
func ReplyUnknownChannel(w http.ResponseWriter) {
	ReplyError(w, http.StatusNotFound, 10003, "Unknown Channel")
}

// ReplyMissingAccess writes a 403 Missing Access error.
func ReplyMissingAccess(w http.ResponseWriter) {
	ReplyError(w, http.StatusForbidden, 50001, "Missing Access")
}
