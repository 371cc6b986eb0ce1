package service

import (
	"fmt"
	"net/http"
)

// Canonical error codes returned in the JSON error body.
const (
	ErrCodeInvalidClient     = "invalid_client"
	ErrCodeInvalidGrant      = "invalid_grant"
	ErrCodeInvalidRequest    = "invalid_request"
	ErrCodeUnsupportedGrant  = "unsupported_grant_type"
	ErrCodeInvalidToken      = "invalid_token"
	ErrCodeNotFound          = "not_found"
	ErrCodeConflict          = "conflict"
	ErrCodeInsufficientStock = "insufficient_stock"
	ErrCodeServerError       = "server_error"
)

// OAuthError standardizes OAuth compliant errors.
type OAuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func newOAuthError(code, desc string, status int) *OAuthError {
	return &OAuthError{Code: code, Description: desc, Status: status}
}

// errInvalidGrant is the uniform invalid_grant. Missing, revoked, and expired
// credentials all map here so a caller cannot probe which one it was.
func errInvalidGrant() *OAuthError {
	return newOAuthError(ErrCodeInvalidGrant, "The provided authorization grant is invalid, expired, or revoked.", http.StatusBadRequest)
}

func errInvalidClient() *OAuthError {
	return newOAuthError(ErrCodeInvalidClient, "Client authentication failed.", http.StatusUnauthorized)
}

func errInvalidToken() *OAuthError {
	return newOAuthError(ErrCodeInvalidToken, "The access token is invalid or has expired.", http.StatusUnauthorized)
}

func errServer(desc string) *OAuthError {
	return newOAuthError(ErrCodeServerError, desc, http.StatusInternalServerError)
}
