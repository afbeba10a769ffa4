// Package flow drives the sign-in and registration screens. Each flow is a
// small state machine over the auth façade; failures never escape as errors
// but land in per-field messages the view renders.
package flow

import (
	"context"
	"errors"

	"github.com/filefortress/filefortress/internal/auth"
)

// Field keys used in error maps.
const (
	FieldAuth            = "auth"
	FieldMFA             = "mfa"
	FieldServer          = "serverError"
	FieldFirstName       = "firstName"
	FieldLastName        = "lastName"
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldConfirmPassword = "confirmPassword"
)

// Routes the flows navigate to.
const (
	RouteDashboard = "/dashboard"
	RouteLogin     = "/login"
)

const (
	msgInvalidCredentials = "Invalid credentials"
	msgMissingCredentials = "Email and password are required"
	msgMFAFailed          = "MFA verification failed"
	msgMFACodeRequired    = "Enter the 6-digit code from your authenticator app"
	msgRegistrationFailed = "Registration failed"
	msgInvalidMFACode     = "Invalid MFA code"
	msgNetwork            = "Network error. Please try again."
	msgInFlight           = "A request is already in progress"
	msgRegistered         = "Registration completed successfully! Please login."
)

// ErrInvalidTransition is returned when an action does not apply to the
// current state.
var ErrInvalidTransition = errors.New("action not allowed in current state")

// Navigator moves the user to another screen.
type Navigator interface {
	Navigate(ctx context.Context, route string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, route string) error

// Navigate calls f.
func (f NavigatorFunc) Navigate(ctx context.Context, route string) error { return f(ctx, route) }

// messageFor picks the user-facing text for err. Server text is preferred in
// the order given by useDetail, then fallback.
func messageFor(err error, fallback string, useDetail bool) string {
	if errors.Is(err, auth.ErrRequestInFlight) {
		return msgInFlight
	}
	var ae *auth.Error
	if !errors.As(err, &ae) {
		return fallback
	}
	if ae.Network() {
		return msgNetwork
	}
	if ae.Message != "" {
		return ae.Message
	}
	if useDetail && ae.Detail != "" {
		return ae.Detail
	}
	return fallback
}

func copyErrors(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
