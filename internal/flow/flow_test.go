package flow

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/filefortress/filefortress/internal/auth"
	"github.com/filefortress/filefortress/internal/authtest"
	"github.com/filefortress/filefortress/internal/httpclient"
	"github.com/filefortress/filefortress/internal/logging"
	"github.com/filefortress/filefortress/internal/notification"
	"github.com/filefortress/filefortress/internal/session"
	"github.com/filefortress/filefortress/internal/state"
)

type recorder struct {
	routes   []string
	messages []notification.Message
}

func (r *recorder) Navigate(_ context.Context, route string) error {
	r.routes = append(r.routes, route)
	return nil
}

func (r *recorder) Send(_ context.Context, m notification.Message) error {
	r.messages = append(r.messages, m)
	return nil
}

type harness struct {
	api   *authtest.Server
	svc   *auth.Service
	store session.Store
	state *state.Container
	rec   *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	api := authtest.NewServer(t)
	store := session.NewMemoryStore()
	client, err := httpclient.New(httpclient.Options{BaseURL: api.URL, Tokens: store})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	svc := auth.NewService(client, store, logging.Discard())
	return &harness{api: api, svc: svc, store: store, state: state.New(svc), rec: &recorder{}}
}

func (h *harness) login() *LoginFlow {
	return NewLoginFlow(LoginDeps{Service: h.svc, State: h.state, Navigator: h.rec, Notifier: h.rec, Logger: logging.Discard()})
}

func (h *harness) register() *RegisterFlow {
	return NewRegisterFlow(RegisterDeps{Service: h.svc, Navigator: h.rec, Notifier: h.rec, Logger: logging.Discard()})
}

func (h *harness) accessToken(t *testing.T) string {
	t.Helper()
	tok, err := h.store.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("read token: %v", err)
	}
	return tok
}

func TestLoginWithoutMFAEstablishesSession(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser(authtest.User{Email: "ada@example.com", Password: "correct-horse", MFADisabled: true})
	f := h.login()
	ctx := context.Background()

	if err := f.SubmitCredentials(ctx, auth.Credentials{Email: "ada@example.com", Password: "correct-horse"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if f.State() != Authenticated {
		t.Fatalf("expected authenticated, got %s (errors %v)", f.State(), f.Errors())
	}
	if h.accessToken(t) == "" {
		t.Fatalf("expected stored access token")
	}
	if f.PendingUserID() != "" {
		t.Fatalf("no challenge should have been entered")
	}
	s := h.state.Snapshot()
	if !s.IsAuthenticated || s.User == nil || s.User.Email != "ada@example.com" {
		t.Fatalf("global state not authenticated: %+v", s)
	}
	if len(h.rec.routes) != 1 || h.rec.routes[0] != RouteDashboard {
		t.Fatalf("expected navigation to dashboard, got %v", h.rec.routes)
	}
}

func TestLoginWithMFAChallenge(t *testing.T) {
	h := newHarness(t)
	id, secret := h.api.AddUser(authtest.User{Email: "ada@example.com", Password: "correct-horse"})
	f := h.login()
	ctx := context.Background()

	if err := f.SubmitCredentials(ctx, auth.Credentials{Email: "ada@example.com", Password: "correct-horse"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if f.State() != AwaitingMFAChallenge {
		t.Fatalf("expected mfa challenge, got %s", f.State())
	}
	if f.PendingUserID() != strconv.FormatInt(id, 10) {
		t.Fatalf("expected pending user %d, got %q", id, f.PendingUserID())
	}
	if h.accessToken(t) != "" {
		t.Fatalf("no token may be stored before mfa")
	}
	if h.state.Snapshot().IsAuthenticated {
		t.Fatalf("global state must stay signed out")
	}

	if err := f.SubmitMFACode(ctx, "000000"); err != nil {
		t.Fatalf("submit bad code: %v", err)
	}
	if f.State() != AwaitingMFAChallenge {
		t.Fatalf("failed code must keep the challenge")
	}
	if f.Errors()[FieldMFA] != "Invalid MFA token" {
		t.Fatalf("expected server message, got %v", f.Errors())
	}

	if err := f.SubmitMFACode(ctx, authtest.Code(secret)); err != nil {
		t.Fatalf("submit code: %v", err)
	}
	if f.State() != Authenticated {
		t.Fatalf("expected authenticated, got %s (%v)", f.State(), f.Errors())
	}
	refresh, _ := h.store.RefreshToken(ctx)
	if h.accessToken(t) == "" || refresh == "" {
		t.Fatalf("expected both tokens stored")
	}
	if !h.state.Snapshot().IsAuthenticated {
		t.Fatalf("expected global state authenticated")
	}
	if len(h.rec.routes) != 1 || h.rec.routes[0] != RouteDashboard {
		t.Fatalf("expected dashboard navigation, got %v", h.rec.routes)
	}

	if err := h.state.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if h.accessToken(t) != "" || h.state.Snapshot().IsAuthenticated {
		t.Fatalf("logout left a session behind")
	}
}

func TestFailedLoginSurfacesError(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser(authtest.User{Email: "ada@example.com", Password: "correct-horse"})
	f := h.login()

	if err := f.SubmitCredentials(context.Background(), auth.Credentials{Email: "ada@example.com", Password: "nope"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if f.State() != EnteringCredentials {
		t.Fatalf("expected to stay on credentials, got %s", f.State())
	}
	if f.Errors()[FieldAuth] == "" {
		t.Fatalf("expected error message")
	}
	if h.accessToken(t) != "" {
		t.Fatalf("storage touched by failed login")
	}
	if f.Loading() {
		t.Fatalf("loading flag left set")
	}
}

func TestLoginRequiresBothFields(t *testing.T) {
	h := newHarness(t)
	f := h.login()
	if err := f.SubmitCredentials(context.Background(), auth.Credentials{Email: "ada@example.com"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if f.Errors()[FieldAuth] != msgMissingCredentials {
		t.Fatalf("unexpected errors %v", f.Errors())
	}
	if h.api.Calls("/api/auth/login/") != 0 {
		t.Fatalf("empty form reached the server")
	}
}

func TestLoginNetworkFailure(t *testing.T) {
	h := newHarness(t)
	h.api.Close()
	f := h.login()

	if err := f.SubmitCredentials(context.Background(), auth.Credentials{Email: "a@b.co", Password: "x"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if f.Errors()[FieldAuth] != msgNetwork {
		t.Fatalf("expected network message, got %v", f.Errors())
	}
}

type stubLogin struct {
	gotToken string
}

func (s *stubLogin) Login(context.Context, auth.Credentials) (auth.LoginResult, error) {
	return auth.LoginResult{RequireMFA: true, UserID: "9"}, nil
}

func (s *stubLogin) VerifyMFA(_ context.Context, _ string, token string) (auth.VerifyResult, error) {
	s.gotToken = token
	return auth.VerifyResult{}, &auth.Error{Kind: auth.GlobalError, Detail: "Make sure your device time is synchronized."}
}

func (s *stubLogin) CurrentUser(context.Context) (auth.User, error) { return auth.User{}, errors.New("unused") }

func (s *stubLogin) Logout(context.Context) error { return nil }

func TestMFACodeIsPaddedBeforeSubmission(t *testing.T) {
	stub := &stubLogin{}
	f := NewLoginFlow(LoginDeps{Service: stub, State: state.New(nil), Logger: logging.Discard()})
	ctx := context.Background()

	if err := f.SubmitCredentials(ctx, auth.Credentials{Email: "a@b.co", Password: "pw"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.SubmitMFACode(ctx, "42"); err != nil {
		t.Fatalf("submit code: %v", err)
	}
	if stub.gotToken != "000042" {
		t.Fatalf("expected padded code, got %q", stub.gotToken)
	}
	if f.Errors()[FieldMFA] != "Make sure your device time is synchronized." {
		t.Fatalf("expected detail to surface, got %v", f.Errors())
	}

	f.Abandon()
	if f.State() != EnteringCredentials || f.PendingUserID() != "" {
		t.Fatalf("abandon should discard the challenge")
	}
	if err := f.SubmitMFACode(ctx, "123456"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRegistrationValidationBlocksNetwork(t *testing.T) {
	h := newHarness(t)
	f := h.register()
	form := validForm()
	form.ConfirmPassword = "different"

	if err := f.Submit(context.Background(), form); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if f.Errors()[FieldConfirmPassword] == "" {
		t.Fatalf("expected confirm password error, got %v", f.Errors())
	}
	if h.api.Calls("/api/auth/register/") != 0 {
		t.Fatalf("invalid form reached the server")
	}
	if f.State() != EnteringRegistrationDetails {
		t.Fatalf("unexpected state %s", f.State())
	}
}

func TestRegistrationEndToEnd(t *testing.T) {
	h := newHarness(t)
	f := h.register()
	ctx := context.Background()

	if err := f.Submit(ctx, validForm()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if f.State() != AwaitingMFAEnrollment {
		t.Fatalf("expected enrollment, got %s (%v)", f.State(), f.Errors())
	}
	enrollment, ok := f.Enrollment()
	if !ok || enrollment.Secret == "" || enrollment.QRCode == "" {
		t.Fatalf("expected enrollment data")
	}

	if err := f.SubmitEnrollmentCode(ctx, "12"); err != nil {
		t.Fatalf("submit bad code: %v", err)
	}
	if f.State() != AwaitingMFAEnrollment || f.Errors()[FieldMFA] != "Invalid MFA token" {
		t.Fatalf("expected to stay with error, got %s %v", f.State(), f.Errors())
	}

	if err := f.SubmitEnrollmentCode(ctx, authtest.Code(enrollment.Secret)); err != nil {
		t.Fatalf("submit code: %v", err)
	}
	if f.State() != RegistrationComplete {
		t.Fatalf("expected complete, got %s (%v)", f.State(), f.Errors())
	}
	if _, ok := f.Enrollment(); ok {
		t.Fatalf("enrollment must not outlive its screen")
	}
	if len(h.rec.routes) != 1 || h.rec.routes[0] != RouteLogin {
		t.Fatalf("expected redirect to login, got %v", h.rec.routes)
	}
	if len(h.rec.messages) != 1 || h.rec.messages[0].Kind != notification.KindRegistrationComplete {
		t.Fatalf("expected completion notice, got %v", h.rec.messages)
	}
	if _, ok := h.api.UserByEmail("ada@example.com"); !ok {
		t.Fatalf("account not created")
	}
}

func TestRegistrationServerFieldErrors(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser(authtest.User{Email: "ada@example.com", Password: "correct-horse"})
	f := h.register()

	if err := f.Submit(context.Background(), validForm()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if f.Errors()[FieldEmail] != "Email already registered" {
		t.Fatalf("expected email field error, got %v", f.Errors())
	}
}

func TestRegistrationNetworkFailureIsServerError(t *testing.T) {
	h := newHarness(t)
	h.api.Close()
	f := h.register()

	if err := f.Submit(context.Background(), validForm()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if f.Errors()[FieldServer] != msgNetwork {
		t.Fatalf("expected network error, got %v", f.Errors())
	}
}
