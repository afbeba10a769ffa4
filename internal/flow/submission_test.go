package flow

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/filefortress/filefortress/internal/auth"
	"github.com/filefortress/filefortress/internal/authtest"
	"github.com/filefortress/filefortress/internal/httpclient"
	"github.com/filefortress/filefortress/internal/logging"
	"github.com/filefortress/filefortress/internal/state"
)

func waitForCall(t *testing.T, api *authtest.Server, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for api.Calls(path) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("request to %s never arrived", path)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSecondCredentialSubmissionWhileRunningIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser(authtest.User{Email: "ada@example.com", Password: "correct-horse"})
	f := h.login()
	ctx := context.Background()
	creds := auth.Credentials{Email: "ada@example.com", Password: "correct-horse"}

	release := h.api.Hold("/api/auth/login/")
	defer release()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := f.SubmitCredentials(ctx, creds); err != nil {
			t.Errorf("first submit: %v", err)
		}
	}()
	waitForCall(t, h.api, "/api/auth/login/")

	if err := f.SubmitCredentials(ctx, creds); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !h.state.Snapshot().Loading {
		t.Fatalf("loading cleared while the first request is still running")
	}
	if errs := f.Errors(); len(errs) != 0 {
		t.Fatalf("ignored submission wrote errors: %v", errs)
	}

	release()
	wg.Wait()
	if f.State() != AwaitingMFAChallenge {
		t.Fatalf("expected mfa challenge, got %s", f.State())
	}
	if errs := f.Errors(); len(errs) != 0 {
		t.Fatalf("challenge should start without errors, got %v", errs)
	}
	if h.state.Snapshot().Loading {
		t.Fatalf("loading still set after the request finished")
	}
	if calls := h.api.Calls("/api/auth/login/"); calls != 1 {
		t.Fatalf("expected one login request, got %d", calls)
	}
}

func TestSubmissionFromAnotherFlowKeepsLoading(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser(authtest.User{Email: "ada@example.com", Password: "correct-horse"})
	first, second := h.login(), h.login()
	ctx := context.Background()
	creds := auth.Credentials{Email: "ada@example.com", Password: "correct-horse"}

	release := h.api.Hold("/api/auth/login/")
	defer release()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = first.SubmitCredentials(ctx, creds)
	}()
	waitForCall(t, h.api, "/api/auth/login/")

	if err := second.SubmitCredentials(ctx, creds); err != nil {
		t.Fatalf("second flow: %v", err)
	}
	if second.Errors()[FieldAuth] != msgInFlight {
		t.Fatalf("expected in-flight message, got %v", second.Errors())
	}
	if !h.state.Snapshot().Loading {
		t.Fatalf("rejected submission cleared loading")
	}

	release()
	wg.Wait()
	if first.State() != AwaitingMFAChallenge || len(first.Errors()) != 0 {
		t.Fatalf("first flow: state %s errors %v", first.State(), first.Errors())
	}
}

func TestSecondRegistrationSubmitWhileRunningIsIgnored(t *testing.T) {
	h := newHarness(t)
	f := h.register()
	ctx := context.Background()

	release := h.api.Hold("/api/auth/register/")
	defer release()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = f.Submit(ctx, validForm())
	}()
	waitForCall(t, h.api, "/api/auth/register/")

	if err := f.Submit(ctx, validForm()); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !f.Loading() {
		t.Fatalf("loading cleared while the first request is still running")
	}

	release()
	wg.Wait()
	if f.State() != AwaitingMFAEnrollment || len(f.Errors()) != 0 {
		t.Fatalf("state %s errors %v", f.State(), f.Errors())
	}
	if calls := h.api.Calls("/api/auth/register/"); calls != 1 {
		t.Fatalf("expected one register request, got %d", calls)
	}
}

// scriptedLogin answers Login with queued errors and records the keys it saw.
type scriptedLogin struct {
	stubLogin
	errs []error
	keys []string
}

func (s *scriptedLogin) Login(ctx context.Context, _ auth.Credentials) (auth.LoginResult, error) {
	key, _ := auth.IdempotencyKey(ctx)
	s.keys = append(s.keys, key)
	err := s.errs[0]
	s.errs = s.errs[1:]
	return auth.LoginResult{}, err
}

func TestRetryAfterNetworkFailureReusesKey(t *testing.T) {
	network := &auth.Error{Kind: auth.GlobalError, Err: &httpclient.NetworkError{Method: http.MethodPost, Path: "/auth/login/", Err: errors.New("connection reset")}}
	rejected := &auth.Error{Kind: auth.GlobalError, Status: http.StatusUnauthorized, Message: "Invalid credentials"}
	svc := &scriptedLogin{errs: []error{network, rejected, rejected, rejected}}
	f := NewLoginFlow(LoginDeps{Service: svc, State: state.New(nil), Logger: logging.Discard()})
	ctx := context.Background()
	creds := auth.Credentials{Email: "ada@example.com", Password: "correct-horse"}

	_ = f.SubmitCredentials(ctx, creds)
	_ = f.SubmitCredentials(ctx, creds)
	_ = f.SubmitCredentials(ctx, creds)
	_ = f.SubmitCredentials(ctx, auth.Credentials{Email: "ada@example.com", Password: "other-horse"})

	k := svc.keys
	if len(k) != 4 || k[0] == "" {
		t.Fatalf("unexpected keys %v", k)
	}
	if k[1] != k[0] {
		t.Fatalf("retry after network failure should reuse the key: %v", k)
	}
	if k[2] == k[1] {
		t.Fatalf("submission after a server answer should mint a new key: %v", k)
	}
	if k[3] == k[2] {
		t.Fatalf("changed input should mint a new key: %v", k)
	}
}
