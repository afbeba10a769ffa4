// Package auth is the façade over the FileFortress authentication API. It
// translates form fields to wire fields, persists tokens after successful
// sign-in, and normalizes every failure into *Error.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/filefortress/filefortress/internal/httpclient"
	"github.com/filefortress/filefortress/internal/session"
)

const (
	pathLogin                = "/auth/login/"
	pathRegister             = "/auth/register/"
	pathVerifyMFA            = "/auth/verify_mfa/"
	pathCompleteRegistration = "/auth/complete_registration/"
	pathMe                   = "/auth/me/"
	pathInitiateMFA          = "/auth/initiate_mfa/"
	pathVerifyMFASetup       = "/auth/verify_mfa_setup/"
)

// API is the transport the service talks through.
type API interface {
	Do(ctx context.Context, r httpclient.Request, out any) error
}

// Service exposes the authentication operations. Mutating operations are
// serialized: a second one started while the first is running fails with
// ErrRequestInFlight and sends nothing.
type Service struct {
	api    API
	store  session.Store
	logger *slog.Logger
	busy   atomic.Bool
}

// NewService builds the façade.
func NewService(api API, store session.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{api: api, store: store, logger: logger}
}

// InFlight reports whether a mutating call is running.
func (s *Service) InFlight() bool {
	return s.busy.Load()
}

func (s *Service) acquire() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrRequestInFlight
	}
	return nil
}

func (s *Service) release() {
	s.busy.Store(false)
}

type idempotencyKeyCtx struct{}

// WithIdempotencyKey makes POSTs issued with the returned context carry key.
// Callers reuse one key for every retry of the same submission.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

// IdempotencyKey returns the key set by WithIdempotencyKey, if any.
func IdempotencyKey(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKeyCtx{}).(string)
	return key, ok && key != ""
}

func (s *Service) post(ctx context.Context, path string, body, out any) error {
	key, ok := IdempotencyKey(ctx)
	if !ok {
		key = uuid.NewString()
	}
	err := s.api.Do(ctx, httpclient.Request{
		Method:         http.MethodPost,
		Path:           path,
		Body:           body,
		IdempotencyKey: key,
	}, out)
	return normalize(err)
}

func (s *Service) get(ctx context.Context, path string, out any) error {
	return normalize(s.api.Do(ctx, httpclient.Request{Method: http.MethodGet, Path: path}, out))
}

// Login posts credentials. When the server does not require MFA the returned
// tokens are stored before Login returns.
func (s *Service) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	if err := s.acquire(); err != nil {
		return LoginResult{}, err
	}
	defer s.release()

	var resp loginResponse
	if err := s.post(ctx, pathLogin, loginRequest{Email: creds.Email, Password: creds.Password}, &resp); err != nil {
		s.logger.Warn("login failed", slog.Any("error", err))
		return LoginResult{}, err
	}

	result := LoginResult{
		RequireMFA: resp.RequireMFA,
		UserID:     string(resp.UserID),
		Access:     resp.Access,
		Refresh:    resp.Refresh,
		User:       resp.User.toUser(),
		Message:    resp.Message,
	}
	if result.RequireMFA {
		s.logger.Info("login requires mfa", slog.String("user_id", result.UserID))
		return result, nil
	}
	if result.Access == "" {
		return LoginResult{}, ErrMissingAccessToken
	}
	if err := s.store.SetTokens(ctx, result.Access, result.Refresh); err != nil {
		return LoginResult{}, fmt.Errorf("store session: %w", err)
	}
	s.logger.Info("login succeeded without mfa")
	return result, nil
}

// Register posts the account details and returns the MFA enrollment the
// server generated. An empty role is sent as DefaultRole.
func (s *Service) Register(ctx context.Context, req RegistrationRequest) (MFAEnrollment, error) {
	if err := s.acquire(); err != nil {
		return MFAEnrollment{}, err
	}
	defer s.release()

	role := req.Role
	if role == "" {
		role = DefaultRole
	}
	body := registerRequest{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
		Role:      role,
	}

	var resp enrollmentResponse
	if err := s.post(ctx, pathRegister, body, &resp); err != nil {
		s.logger.Warn("registration failed", slog.Any("error", err))
		return MFAEnrollment{}, err
	}
	s.logger.Info("registration pending mfa enrollment")
	return MFAEnrollment{QRCode: resp.QRCode, Secret: resp.Secret}, nil
}

// VerifyMFA answers the login challenge for userID. When the server grants
// an access token both tokens are stored before VerifyMFA returns.
func (s *Service) VerifyMFA(ctx context.Context, userID, token string) (VerifyResult, error) {
	if err := s.acquire(); err != nil {
		return VerifyResult{}, err
	}
	defer s.release()

	var resp verifyResponse
	if err := s.post(ctx, pathVerifyMFA, verifyMFARequest{UserID: userID, Token: token}, &resp); err != nil {
		s.logger.Warn("mfa verification failed", slog.String("user_id", userID), slog.Any("error", err))
		return VerifyResult{}, err
	}

	result := VerifyResult{Access: resp.Access, Refresh: resp.Refresh, User: resp.User.toUser()}
	if result.Access != "" {
		if err := s.store.SetTokens(ctx, result.Access, result.Refresh); err != nil {
			return VerifyResult{}, fmt.Errorf("store session: %w", err)
		}
		s.logger.Info("mfa verification succeeded", slog.String("user_id", userID))
	}
	return result, nil
}

// CompleteRegistration posts the first TOTP code to finish a pending
// registration. The pending state lives in the server session cookie set by
// Register, so both calls must share the same client.
func (s *Service) CompleteRegistration(ctx context.Context, token string) (string, error) {
	if err := s.acquire(); err != nil {
		return "", err
	}
	defer s.release()

	var resp messageResponse
	if err := s.post(ctx, pathCompleteRegistration, tokenRequest{Token: token}, &resp); err != nil {
		s.logger.Warn("registration completion failed", slog.Any("error", err))
		return "", err
	}
	s.logger.Info("registration completed")
	return resp.Message, nil
}

// Logout forgets the stored tokens. It never calls the server.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.store.ClearTokens(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.logger.Info("logged out")
	return nil
}

// CurrentUser fetches the signed-in principal.
func (s *Service) CurrentUser(ctx context.Context) (User, error) {
	var resp wireUser
	if err := s.get(ctx, pathMe, &resp); err != nil {
		return User{}, err
	}
	return *resp.toUser(), nil
}

// InitiateMFASetup asks the server for a new secret for the signed-in user.
func (s *Service) InitiateMFASetup(ctx context.Context) (MFAEnrollment, error) {
	var resp setupResponse
	if err := s.get(ctx, pathInitiateMFA, &resp); err != nil {
		return MFAEnrollment{}, err
	}
	e := MFAEnrollment{QRCode: resp.QRCode, Secret: resp.Secret}
	if e.QRCode == "" {
		e.QRCode = resp.MFAQRCode
	}
	if e.Secret == "" {
		e.Secret = resp.MFASecret
	}
	return e, nil
}

// VerifyMFASetup confirms the secret issued by InitiateMFASetup.
func (s *Service) VerifyMFASetup(ctx context.Context, token string) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	if err := s.post(ctx, pathVerifyMFASetup, tokenRequest{Token: token}, nil); err != nil {
		s.logger.Warn("mfa setup verification failed", slog.Any("error", err))
		return err
	}
	return nil
}
