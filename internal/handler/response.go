package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/prn-tf/tagsoup/internal/domain"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
}

// statusFor maps an error class to its HTTP status.
func statusFor(err error) int {
	switch domain.Kind(err) {
	case "UnsupportedType", "InvalidArgument":
		return http.StatusBadRequest
	case "TooLarge":
		return http.StatusRequestEntityTooLarge
	case "NotFound":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// messageFor returns the client facing message for err. Internal failures
// are not described to clients.
func messageFor(err error) string {
	if domain.Kind(err) == "InternalError" {
		return "internal server error"
	}
	var de *domain.DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}

func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
	}

	writeJSON(w, status, ErrorResponse{
		Success:   false,
		Code:      status,
		Message:   messageFor(err),
		ErrorType: domain.Kind(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(message string) error {
	return domain.NewDomainError(domain.ErrInvalidArgument, message, "")
}
