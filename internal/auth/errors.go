package auth

import "errors"

// Common authentication errors
var (
	// ErrInvalidToken indicates the token format is invalid or signature doesn't match
	ErrInvalidToken = errors.New("invalid authentication token")

	// ErrExpiredToken indicates the token has expired
	ErrExpiredToken = errors.New("authentication token has expired")

	// ErrInvalidKey indicates the API key is unknown or its secret does not match
	ErrInvalidKey = errors.New("invalid API key")
)
