package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrEmailTaken         = errors.New("auth: email already registered")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrPendingApproval    = errors.New("auth: account pending approval")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrNoSession          = errors.New("auth: no active session")
	ErrUnauthorized       = errors.New("auth: unauthorized")
)

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("invalid token")
