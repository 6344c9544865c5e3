package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/halinh/authcore"
)

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// WriteError answers err as JSON. An *authcore.AuthError supplies the status,
// the public message and, when set, Retry-After. Anything else is a 500 with
// a generic message.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Error: "internal error"}

	var ae *authcore.AuthError
	switch {
	case errors.As(err, &ae):
		status = ae.HTTPStatus()
		body = errorBody{Error: ae.PublicMessage(), Reason: string(ae.Reason)}
		if secs := ae.RetryAfterSeconds(); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	case errors.Is(err, authcore.ErrUnauthenticated):
		status = http.StatusUnauthorized
		body = errorBody{Error: "invalid credentials", Reason: string(authcore.ReasonUnauthenticated)}
	case errors.Is(err, authcore.ErrEngineNotReady):
		status = http.StatusServiceUnavailable
		body = errorBody{Error: "service temporarily unavailable"}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
