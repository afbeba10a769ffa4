package flow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/filefortress/filefortress/internal/auth"
	"github.com/filefortress/filefortress/internal/notification"
	"github.com/filefortress/filefortress/internal/state"
)

// LoginState is a step of the sign-in screen.
type LoginState int

const (
	EnteringCredentials LoginState = iota
	AwaitingMFAChallenge
	Authenticated
)

func (s LoginState) String() string {
	switch s {
	case EnteringCredentials:
		return "entering_credentials"
	case AwaitingMFAChallenge:
		return "awaiting_mfa_challenge"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// LoginService is the slice of the auth façade the sign-in screen uses.
type LoginService interface {
	Login(ctx context.Context, creds auth.Credentials) (auth.LoginResult, error)
	VerifyMFA(ctx context.Context, userID, token string) (auth.VerifyResult, error)
	CurrentUser(ctx context.Context) (auth.User, error)
	Logout(ctx context.Context) error
}

// LoginDeps wires a LoginFlow.
type LoginDeps struct {
	Service   LoginService
	State     *state.Container
	Navigator Navigator
	Notifier  notification.Notifier
	Logger    *slog.Logger
}

// LoginFlow moves from credentials through an optional MFA challenge to an
// authenticated session. Both success paths end in establishSession.
type LoginFlow struct {
	deps LoginDeps

	mu            sync.Mutex
	current       LoginState
	errors        map[string]string
	pendingUserID string
	submitting    bool
	credentials   submission[auth.Credentials]
	challenge     submission[string]
}

// NewLoginFlow starts in EnteringCredentials.
func NewLoginFlow(deps LoginDeps) *LoginFlow {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &LoginFlow{deps: deps, errors: map[string]string{}}
}

// State returns the current step.
func (f *LoginFlow) State() LoginState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Errors returns a copy of the field errors from the last action.
func (f *LoginFlow) Errors() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyErrors(f.errors)
}

// PendingUserID is the user awaiting an MFA code, or "".
func (f *LoginFlow) PendingUserID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingUserID
}

// Loading mirrors the global loading flag.
func (f *LoginFlow) Loading() bool {
	return f.deps.State.Snapshot().Loading
}

func (f *LoginFlow) setErrors(errs map[string]string) {
	f.mu.Lock()
	f.errors = errs
	f.mu.Unlock()
}

// begin claims the flow for one submission and clears the previous errors.
// It reports false, touching nothing, while an earlier submission from this
// flow is still running.
func (f *LoginFlow) begin(want LoginState) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != want {
		return false, ErrInvalidTransition
	}
	if f.submitting {
		return false, nil
	}
	f.submitting = true
	f.errors = map[string]string{}
	return true, nil
}

func (f *LoginFlow) end() {
	f.mu.Lock()
	f.submitting = false
	f.mu.Unlock()
}

// SubmitCredentials signs in with email and password. On an MFA challenge
// the flow moves to AwaitingMFAChallenge and keeps the returned user id. A
// call made while an earlier one from this flow is running is ignored.
func (f *LoginFlow) SubmitCredentials(ctx context.Context, creds auth.Credentials) error {
	ok, err := f.begin(EnteringCredentials)
	if !ok {
		return err
	}
	defer f.end()
	if strings.TrimSpace(creds.Email) == "" || creds.Password == "" {
		f.setErrors(map[string]string{FieldAuth: msgMissingCredentials})
		return nil
	}

	f.mu.Lock()
	key := f.credentials.keyFor(creds)
	f.mu.Unlock()

	f.deps.State.SetLoading(true)
	res, err := f.deps.Service.Login(auth.WithIdempotencyKey(ctx, key), creds)
	if errors.Is(err, auth.ErrRequestInFlight) {
		// The running request owns the loading flag.
		f.setErrors(map[string]string{FieldAuth: msgInFlight})
		return nil
	}
	f.deps.State.SetLoading(false)
	f.mu.Lock()
	f.credentials.settle(err)
	f.mu.Unlock()
	if err != nil {
		f.deps.Logger.Warn("login failed", slog.Any("error", err))
		f.setErrors(map[string]string{FieldAuth: messageFor(err, msgInvalidCredentials, false)})
		return nil
	}

	if res.RequireMFA {
		f.mu.Lock()
		f.pendingUserID = res.UserID
		f.current = AwaitingMFAChallenge
		f.errors = map[string]string{}
		f.mu.Unlock()
		f.notify(ctx, notification.KindMFARequired, msgMFACodeRequired)
		return nil
	}

	// The façade already stored the tokens.
	f.establishSession(ctx, res.User, FieldAuth)
	return nil
}

// SubmitMFACode answers the challenge. Failures keep the flow in
// AwaitingMFAChallenge so the user can retry.
func (f *LoginFlow) SubmitMFACode(ctx context.Context, input string) error {
	ok, err := f.begin(AwaitingMFAChallenge)
	if !ok {
		return err
	}
	defer f.end()
	userID := f.PendingUserID()

	code, err := NormalizeMFACode(input)
	if err != nil {
		f.setErrors(map[string]string{FieldMFA: msgMFACodeRequired})
		return nil
	}

	f.mu.Lock()
	key := f.challenge.keyFor(userID + ":" + code)
	f.mu.Unlock()

	f.deps.State.SetLoading(true)
	res, err := f.deps.Service.VerifyMFA(auth.WithIdempotencyKey(ctx, key), userID, code)
	if errors.Is(err, auth.ErrRequestInFlight) {
		f.setErrors(map[string]string{FieldMFA: msgInFlight})
		return nil
	}
	f.deps.State.SetLoading(false)
	f.mu.Lock()
	f.challenge.settle(err)
	f.mu.Unlock()
	if err != nil {
		f.deps.Logger.Warn("mfa verification failed", slog.String("user_id", userID), slog.Any("error", err))
		f.setErrors(map[string]string{FieldMFA: messageFor(err, msgMFAFailed, true)})
		return nil
	}
	if res.Access == "" {
		f.setErrors(map[string]string{FieldMFA: msgMFAFailed})
		return nil
	}

	f.establishSession(ctx, res.User, FieldMFA)
	return nil
}

// Abandon drops a pending challenge and returns to the credential form.
func (f *LoginFlow) Abandon() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == AwaitingMFAChallenge {
		f.current = EnteringCredentials
		f.pendingUserID = ""
		f.errors = map[string]string{}
	}
}

// establishSession marks the global state authenticated and leaves for the
// dashboard. Tokens are already stored. When the server did not include the
// user it is fetched; if that fails the stored session is discarded.
func (f *LoginFlow) establishSession(ctx context.Context, user *auth.User, errField string) {
	if user == nil {
		u, err := f.deps.Service.CurrentUser(ctx)
		if err != nil {
			f.deps.Logger.Warn("fetch current user failed", slog.Any("error", err))
			if lerr := f.deps.Service.Logout(ctx); lerr != nil {
				f.deps.Logger.Error("discard session failed", slog.Any("error", lerr))
			}
			f.setErrors(map[string]string{errField: messageFor(err, msgInvalidCredentials, true)})
			return
		}
		user = &u
	}

	f.deps.State.SetAuthenticated(*user)
	f.mu.Lock()
	f.current = Authenticated
	f.pendingUserID = ""
	f.errors = map[string]string{}
	f.mu.Unlock()

	f.notify(ctx, notification.KindSignedIn, "Signed in as "+user.Email)
	if f.deps.Navigator != nil {
		if err := f.deps.Navigator.Navigate(ctx, RouteDashboard); err != nil {
			f.deps.Logger.Warn("navigate failed", slog.String("route", RouteDashboard), slog.Any("error", err))
		}
	}
}

func (f *LoginFlow) notify(ctx context.Context, kind, body string) {
	if f.deps.Notifier == nil {
		return
	}
	if err := f.deps.Notifier.Send(ctx, notification.Message{Kind: kind, Body: body}); err != nil {
		f.deps.Logger.Warn("notify failed", slog.String("kind", kind), slog.Any("error", err))
	}
}
