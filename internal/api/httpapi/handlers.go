package httpapi

import (
	"net/http"

	"github.com/passkeyd/passkeyd/internal/ceremony"
	apperrors "github.com/passkeyd/passkeyd/internal/platform/errors"
	"github.com/passkeyd/passkeyd/internal/webauthn"
)

type beginRegistrationRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
}

func (s *Server) handleBeginRegistration(w http.ResponseWriter, r *http.Request) {
	var req beginRegistrationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	options, err := s.ceremonies.BeginRegistration(r.Context(), req.Username, req.DisplayName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, options)
}

// finishRegistrationRequest is the single accepted registration response
// shape. Binary fields are wire-encoded.
type finishRegistrationRequest struct {
	SessionID         string `json:"sessionId"`
	ClientDataJSON    string `json:"clientDataJSON"`
	AttestationObject string `json:"attestationObject"`
}

type finishRegistrationResponse struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	CredentialID string `json:"credentialId"`
}

func (s *Server) handleFinishRegistration(w http.ResponseWriter, r *http.Request) {
	var req finishRegistrationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	clientDataJSON, err := webauthn.Decode(req.ClientDataJSON)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	attestationObject, err := webauthn.Decode(req.AttestationObject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.ceremonies.FinishRegistration(r.Context(), ceremony.FinishRegistrationInput{
		SessionID:         req.SessionID,
		ClientDataJSON:    clientDataJSON,
		AttestationObject: attestationObject,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, finishRegistrationResponse{
		UserID:       result.UserID,
		Username:     result.Username,
		CredentialID: result.CredentialID,
	})
}

type beginAuthenticationRequest struct {
	Username string `json:"username"`
}

func (s *Server) handleBeginAuthentication(w http.ResponseWriter, r *http.Request) {
	var req beginAuthenticationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	options, err := s.ceremonies.BeginAuthentication(r.Context(), req.Username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, options)
}

// finishAuthenticationRequest is the single accepted assertion shape. Binary
// fields are wire-encoded; the credential ID stays encoded end to end.
type finishAuthenticationRequest struct {
	SessionID         string `json:"sessionId"`
	CredentialID      string `json:"credentialId"`
	ClientDataJSON    string `json:"clientDataJSON"`
	AuthenticatorData string `json:"authenticatorData"`
	Signature         string `json:"signature"`
}

type finishAuthenticationResponse struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	CredentialID string `json:"credentialId"`
	Token        string `json:"token,omitempty"`
}

func (s *Server) handleFinishAuthentication(w http.ResponseWriter, r *http.Request) {
	var req finishAuthenticationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	clientDataJSON, err := webauthn.Decode(req.ClientDataJSON)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	authenticatorData, err := webauthn.Decode(req.AuthenticatorData)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	signature, err := webauthn.Decode(req.Signature)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.ceremonies.FinishAuthentication(r.Context(), ceremony.FinishAuthenticationInput{
		SessionID:         req.SessionID,
		CredentialID:      req.CredentialID,
		ClientDataJSON:    clientDataJSON,
		AuthenticatorData: authenticatorData,
		Signature:         signature,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	response := finishAuthenticationResponse{
		UserID:       result.UserID,
		Username:     result.Username,
		CredentialID: result.CredentialID,
	}
	if s.tokens != nil {
		signed, err := s.tokens.Issue(result.UserID, result.Username)
		if err != nil {
			s.writeError(w, r, apperrors.Wrap(apperrors.CodeRepositoryFailure, "issue session token", err))
			return
		}
		response.Token = signed
	}
	s.writeJSON(w, http.StatusOK, response)
}
