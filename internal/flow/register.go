package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/filefortress/filefortress/internal/auth"
	"github.com/filefortress/filefortress/internal/notification"
)

// RegisterState is a step of the registration screen.
type RegisterState int

const (
	EnteringRegistrationDetails RegisterState = iota
	AwaitingMFAEnrollment
	RegistrationComplete
)

func (s RegisterState) String() string {
	switch s {
	case EnteringRegistrationDetails:
		return "entering_registration_details"
	case AwaitingMFAEnrollment:
		return "awaiting_mfa_enrollment"
	case RegistrationComplete:
		return "registration_complete"
	default:
		return "unknown"
	}
}

// RegisterService is the slice of the auth façade the registration screen uses.
type RegisterService interface {
	Register(ctx context.Context, req auth.RegistrationRequest) (auth.MFAEnrollment, error)
	CompleteRegistration(ctx context.Context, token string) (string, error)
}

// RegisterDeps wires a RegisterFlow.
type RegisterDeps struct {
	Service   RegisterService
	Navigator Navigator
	Notifier  notification.Notifier
	Logger    *slog.Logger
}

// RegisterFlow validates the form, shows the MFA enrollment and confirms it
// with the first authenticator code.
type RegisterFlow struct {
	deps RegisterDeps

	mu         sync.Mutex
	current    RegisterState
	errors     map[string]string
	enrollment *auth.MFAEnrollment
	loading    bool
	details    submission[RegistrationForm]
	confirm    submission[string]
}

// NewRegisterFlow starts in EnteringRegistrationDetails.
func NewRegisterFlow(deps RegisterDeps) *RegisterFlow {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &RegisterFlow{deps: deps, errors: map[string]string{}}
}

// State returns the current step.
func (f *RegisterFlow) State() RegisterState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Errors returns a copy of the field errors from the last action.
func (f *RegisterFlow) Errors() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyErrors(f.errors)
}

// Loading reports whether a request is running.
func (f *RegisterFlow) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

// Enrollment returns the QR code and secret while AwaitingMFAEnrollment.
func (f *RegisterFlow) Enrollment() (auth.MFAEnrollment, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != AwaitingMFAEnrollment || f.enrollment == nil {
		return auth.MFAEnrollment{}, false
	}
	return *f.enrollment, true
}

func (f *RegisterFlow) setErrors(errs map[string]string) {
	f.mu.Lock()
	f.errors = errs
	f.mu.Unlock()
}

// begin claims the flow for one request. It reports false, touching
// nothing, while an earlier request from this flow is still running.
func (f *RegisterFlow) begin(want RegisterState) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != want {
		return false, ErrInvalidTransition
	}
	if f.loading {
		return false, nil
	}
	f.loading = true
	f.errors = map[string]string{}
	return true, nil
}

func (f *RegisterFlow) end() {
	f.mu.Lock()
	f.loading = false
	f.mu.Unlock()
}

// Submit validates the form locally and, only if it passes, registers. A
// call made while an earlier one from this flow is running is ignored.
func (f *RegisterFlow) Submit(ctx context.Context, form RegistrationForm) error {
	ok, err := f.begin(EnteringRegistrationDetails)
	if !ok {
		return err
	}
	defer f.end()
	if errs := ValidateRegistration(form); len(errs) > 0 {
		f.setErrors(errs)
		return nil
	}

	f.mu.Lock()
	key := f.details.keyFor(form)
	f.mu.Unlock()

	enrollment, err := f.deps.Service.Register(auth.WithIdempotencyKey(ctx, key), auth.RegistrationRequest{
		FirstName: form.FirstName,
		LastName:  form.LastName,
		Email:     form.Email,
		Password:  form.Password,
		Role:      form.Role,
	})
	f.mu.Lock()
	f.details.settle(err)
	f.mu.Unlock()
	if err != nil {
		f.deps.Logger.Warn("registration failed", slog.Any("error", err))
		f.setErrors(registrationErrors(err))
		return nil
	}

	f.mu.Lock()
	f.enrollment = &enrollment
	f.current = AwaitingMFAEnrollment
	f.errors = map[string]string{}
	f.mu.Unlock()
	return nil
}

// SubmitEnrollmentCode finishes registration with the first TOTP code.
func (f *RegisterFlow) SubmitEnrollmentCode(ctx context.Context, input string) error {
	ok, err := f.begin(AwaitingMFAEnrollment)
	if !ok {
		return err
	}
	defer f.end()

	code, err := NormalizeMFACode(input)
	if err != nil {
		f.setErrors(map[string]string{FieldMFA: msgMFACodeRequired})
		return nil
	}

	f.mu.Lock()
	key := f.confirm.keyFor(code)
	f.mu.Unlock()

	_, err = f.deps.Service.CompleteRegistration(auth.WithIdempotencyKey(ctx, key), code)
	f.mu.Lock()
	f.confirm.settle(err)
	f.mu.Unlock()
	if err != nil {
		f.deps.Logger.Warn("registration completion failed", slog.Any("error", err))
		f.setErrors(map[string]string{FieldMFA: messageFor(err, msgInvalidMFACode, true)})
		return nil
	}

	f.mu.Lock()
	f.current = RegistrationComplete
	f.enrollment = nil
	f.errors = map[string]string{}
	f.mu.Unlock()

	if f.deps.Notifier != nil {
		if err := f.deps.Notifier.Send(ctx, notification.Message{Kind: notification.KindRegistrationComplete, Body: msgRegistered}); err != nil {
			f.deps.Logger.Warn("notify failed", slog.Any("error", err))
		}
	}
	if f.deps.Navigator != nil {
		if err := f.deps.Navigator.Navigate(ctx, RouteLogin); err != nil {
			f.deps.Logger.Warn("navigate failed", slog.String("route", RouteLogin), slog.Any("error", err))
		}
	}
	return nil
}

// Abandon discards a pending enrollment and returns to the form.
func (f *RegisterFlow) Abandon() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == AwaitingMFAEnrollment {
		f.current = EnteringRegistrationDetails
		f.enrollment = nil
		f.errors = map[string]string{}
	}
}

// registrationErrors merges server field errors into the form error map.
func registrationErrors(err error) map[string]string {
	var ae *auth.Error
	if errors.As(err, &ae) && ae.Kind == auth.FieldErrors && !ae.Network() {
		return copyErrors(ae.Fields)
	}
	return map[string]string{FieldServer: messageFor(err, msgRegistrationFailed, false)}
}
