package auth

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// DefaultRole is sent when a registration omits a role.
const DefaultRole = "user"

// Credentials are the login form fields. Never persisted.
type Credentials struct {
	Email    string
	Password string
}

// RegistrationRequest is the account data posted at registration.
type RegistrationRequest struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Role      string
}

// User is the server's view of the principal. Read-only for the client.
type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Role      string
}

// MFAEnrollment is returned once at registration or MFA setup.
type MFAEnrollment struct {
	// QRCode is a base64-encoded PNG of the otpauth URI.
	QRCode string
	Secret string
}

// QRCodePNG decodes the QR code image.
func (e MFAEnrollment) QRCodePNG() ([]byte, error) {
	png, err := base64.StdEncoding.DecodeString(e.QRCode)
	if err != nil {
		return nil, fmt.Errorf("decode qr code: %w", err)
	}
	return png, nil
}

// LoginResult is the outcome of a credential submission.
type LoginResult struct {
	RequireMFA bool
	UserID     string
	Access     string
	Refresh    string
	User       *User
	Message    string
}

// VerifyResult is the outcome of an MFA challenge.
type VerifyResult struct {
	Access  string
	Refresh string
	User    *User
}

// Wire shapes. Field names follow the server.

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	RequireMFA bool      `json:"require_mfa"`
	UserID     wireID    `json:"user_id"`
	Access     string    `json:"access"`
	Refresh    string    `json:"refresh"`
	User       *wireUser `json:"user"`
	Message    string    `json:"message"`
}

type registerRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
}

type enrollmentResponse struct {
	QRCode  string `json:"mfa_qr_code"`
	Secret  string `json:"mfa_secret"`
	Message string `json:"message"`
}

// initiate_mfa answers with the unprefixed names.
type setupResponse struct {
	QRCode    string `json:"qr_code"`
	Secret    string `json:"secret"`
	MFAQRCode string `json:"mfa_qr_code"`
	MFASecret string `json:"mfa_secret"`
}

type verifyMFARequest struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Access  string    `json:"access"`
	Refresh string    `json:"refresh"`
	User    *wireUser `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type wireUser struct {
	ID        wireID `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

func (u *wireUser) toUser() *User {
	if u == nil {
		return nil
	}
	return &User{ID: string(u.ID), Email: u.Email, FirstName: u.FirstName, LastName: u.LastName, Role: u.Role}
}

// wireID accepts identifiers encoded as JSON numbers or strings.
type wireID string

func (id *wireID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = wireID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier is neither string nor number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = wireID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = wireID(n.String())
	return nil
}
