package server

import (
	"encoding/json"
	"net/http"

	"caregistrar/services/registrard/registrar"
)

type problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var codeStatus = map[string]int{
	"invalid_domain_length":              http.StatusBadRequest,
	"invalid_register_years":             http.StatusBadRequest,
	"too_many_addresses":                 http.StatusBadRequest,
	"invalid_address":                    http.StatusBadRequest,
	"invalid_grace_period":               http.StatusBadRequest,
	"invalid_expiry":                     http.StatusBadRequest,
	"domain_not_found":                   http.StatusNotFound,
	"domain_already_registered":          http.StatusConflict,
	"domain_expired_beyond_grace_period": http.StatusConflict,
	"domain_not_available_for_purchase":  http.StatusConflict,
	"domain_expired":                     http.StatusConflict,
	"registry_initialized":               http.StatusConflict,
	"not_domain_owner":                   http.StatusForbidden,
	"not_registry_authority":             http.StatusForbidden,
	"insufficient_payment":               http.StatusPaymentRequired,
	"math_overflow":                      http.StatusUnprocessableEntity,
	"invalid_price_feed":                 http.StatusServiceUnavailable,
	"registry_not_initialized":           http.StatusServiceUnavailable,
	"module_paused":                      http.StatusServiceUnavailable,
}

// statusFor maps a registry error code to an HTTP status.
func statusFor(code string) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeProblem(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]problem{"error": {Code: code, Message: message}})
}

// writeError renders a registry error. Internal errors never leak their text.
func writeError(w http.ResponseWriter, err error) {
	code := registrar.Code(err)
	status := statusFor(code)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	writeProblem(w, status, code, message)
}

func badRequest(w http.ResponseWriter, message string) {
	writeProblem(w, http.StatusBadRequest, "bad_request", message)
}
