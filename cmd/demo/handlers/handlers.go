// Package handlers holds the sample endpoints the demo server protects.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response is the demo's generic JSON envelope.
type Response struct {
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	resp.Timestamp = time.Now().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// Health is the unprotected health check.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Message: "demo server is healthy"})
}

// Search simulates a read-heavy endpoint with a lenient limit.
func Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		query = "all"
	}
	writeJSON(w, http.StatusOK, Response{
		Message: "search results",
		Data: map[string]interface{}{
			"query":   query,
			"results": []string{"result1", "result2", "result3"},
		},
	})
}

// Create simulates a write endpoint with a moderate limit.
func Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusCreated, Response{
		Message: "resource created",
		Data:    map[string]interface{}{"id": "12345", "created": true},
	})
}

// Login simulates an authentication endpoint with a strict anti-brute-force
// limit.
func Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Message: "logged in",
		Data:    map[string]interface{}{"token": "mock-jwt-token", "user": "demo-user"},
	})
}
