package httpx

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes payload with the given status. Encoding failures are dropped since
// the status line has already been sent.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
