// Package httpapi exposes the ceremony service over a JSON HTTP API.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/passkeyd/passkeyd/internal/ceremony"
	apperrors "github.com/passkeyd/passkeyd/internal/platform/errors"
	"github.com/passkeyd/passkeyd/internal/token"
)

// Server hosts the ceremony HTTP endpoints.
type Server struct {
	ceremonies *ceremony.Service
	tokens     *token.Issuer
	logger     *slog.Logger
}

// NewServer builds an HTTP server over the ceremony service. The token
// issuer is optional; without it authentication responses omit the session
// token.
func NewServer(ceremonies *ceremony.Service, tokens *token.Issuer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{ceremonies: ceremonies, tokens: tokens, logger: logger}
}

// RegisterRoutes registers ceremony endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("POST /v1/registration/begin", s.handleBeginRegistration)
	mux.HandleFunc("POST /v1/registration/finish", s.handleFinishRegistration)
	mux.HandleFunc("POST /v1/authentication/begin", s.handleBeginAuthentication)
	mux.HandleFunc("POST /v1/authentication/finish", s.handleFinishAuthentication)
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// errorBody is the JSON error shape for every failed request.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// decodeJSON parses a request body into target, rejecting unknown fields so
// each endpoint accepts exactly one input shape.
func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return apperrors.Wrap(apperrors.CodeMalformedResponse, "decode request body", err)
	}
	// A second document after the first is equally malformed.
	if decoder.More() {
		return apperrors.New(apperrors.CodeMalformedResponse, "unexpected trailing request data")
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError maps a domain error to its HTTP status. The response carries
// the coded message as-is: anything that must stay internal was already
// collapsed by the ceremony service.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeUnknown
	message := "internal error"
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		code = domainErr.Code
		message = domainErr.Message
	}
	status := code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "code", string(code), "error", err)
	} else {
		s.logger.Info("request rejected", "path", r.URL.Path, "code", string(code))
	}
	s.writeJSON(w, status, errorBody{Error: errorDetail{Code: string(code), Message: message}})
}
