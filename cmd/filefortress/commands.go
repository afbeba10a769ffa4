package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/filefortress/filefortress/internal/auth"
	"github.com/filefortress/filefortress/internal/flow"
	"github.com/filefortress/filefortress/internal/session"
)

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := a.flags("login")
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	lf := flow.NewLoginFlow(flow.LoginDeps{
		Service:   a.svc,
		State:     a.state,
		Navigator: a.navigator(),
		Notifier:  a.notifier,
		Logger:    a.logger,
	})

	creds := auth.Credentials{Email: *email}
	var err error
	if creds.Email == "" {
		if creds.Email, err = a.prompt("Email"); err != nil {
			return err
		}
	}
	if creds.Password, err = a.prompt("Password"); err != nil {
		return err
	}
	if err := lf.SubmitCredentials(ctx, creds); err != nil {
		return err
	}

	for attempt := 1; lf.State() == flow.AwaitingMFAChallenge; attempt++ {
		if errs := lf.Errors(); len(errs) > 0 {
			a.printErrors(errs)
			if attempt > maxCodeAttempts {
				lf.Abandon()
				return errReported
			}
		}
		code, err := a.prompt("Authenticator code")
		if err != nil {
			return err
		}
		if err := lf.SubmitMFACode(ctx, code); err != nil {
			return err
		}
	}

	if lf.State() != flow.Authenticated {
		return a.printErrors(lf.Errors())
	}
	return nil
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := a.flags("register")
	qrPath := fs.String("qr", "", "write the authenticator QR code to this PNG file")
	role := fs.String("role", "", "account role (default user)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rf := flow.NewRegisterFlow(flow.RegisterDeps{
		Service:   a.svc,
		Navigator: a.navigator(),
		Notifier:  a.notifier,
		Logger:    a.logger,
	})

	form := flow.RegistrationForm{Role: *role}
	for _, field := range []struct {
		label string
		dst   *string
	}{
		{"First name", &form.FirstName},
		{"Last name", &form.LastName},
		{"Email", &form.Email},
		{"Password", &form.Password},
		{"Confirm password", &form.ConfirmPassword},
	} {
		v, err := a.prompt(field.label)
		if err != nil {
			return err
		}
		*field.dst = v
	}

	if err := rf.Submit(ctx, form); err != nil {
		return err
	}
	enrollment, ok := rf.Enrollment()
	if !ok {
		return a.printErrors(rf.Errors())
	}
	if err := a.showEnrollment(enrollment, *qrPath); err != nil {
		return err
	}

	for attempt := 1; rf.State() == flow.AwaitingMFAEnrollment; attempt++ {
		if errs := rf.Errors(); len(errs) > 0 {
			a.printErrors(errs)
			if attempt > maxCodeAttempts {
				rf.Abandon()
				return errReported
			}
		}
		code, err := a.prompt("Authenticator code")
		if err != nil {
			return err
		}
		if err := rf.SubmitEnrollmentCode(ctx, code); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) whoami(ctx context.Context, _ []string) error {
	user, err := a.svc.CurrentUser(ctx)
	if err != nil {
		return err
	}
	a.state.SetAuthenticated(user)
	fmt.Fprintf(a.out, "%s %s <%s>\nid: %s\nrole: %s\n", user.FirstName, user.LastName, user.Email, user.ID, user.Role)
	return nil
}

func (a *app) status(ctx context.Context, _ []string) error {
	access, err := a.store.AccessToken(ctx)
	if err != nil {
		return err
	}
	if access == "" {
		fmt.Fprintln(a.out, "signed out")
		return nil
	}
	refresh, err := a.store.RefreshToken(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "signed in (%s session, namespace %s)\n", a.cfg.SessionBackend, a.cfg.SessionNamespace)
	claims, err := session.Inspect(access)
	if err != nil {
		fmt.Fprintln(a.out, "access token: opaque")
	} else {
		if claims.UserID != "" {
			fmt.Fprintf(a.out, "user id: %s\n", claims.UserID)
		}
		if !claims.ExpiresAt.IsZero() {
			note := ""
			if claims.Expired(time.Now()) {
				note = " (expired)"
			}
			fmt.Fprintf(a.out, "access token expires: %s%s\n", claims.ExpiresAt.Local().Format(time.RFC1123), note)
		}
	}
	fmt.Fprintf(a.out, "refresh token stored: %t\n", refresh != "")
	return nil
}

func (a *app) logout(ctx context.Context, _ []string) error {
	if err := a.state.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "signed out")
	return nil
}

func (a *app) mfaSetup(ctx context.Context, args []string) error {
	fs := a.flags("mfa-setup")
	qrPath := fs.String("qr", "", "write the authenticator QR code to this PNG file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	enrollment, err := a.svc.InitiateMFASetup(ctx)
	if err != nil {
		return err
	}
	if err := a.showEnrollment(enrollment, *qrPath); err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		input, err := a.prompt("Authenticator code")
		if err != nil {
			return err
		}
		code, err := flow.NormalizeMFACode(input)
		if err == nil {
			err = a.svc.VerifyMFASetup(ctx, code)
		}
		if err == nil {
			fmt.Fprintln(a.out, "authenticator enrolled")
			return nil
		}
		if errors.Is(err, flow.ErrEmptyMFACode) {
			fmt.Fprintln(a.errOut, "mfa: enter the 6-digit code from your authenticator app")
		} else {
			fmt.Fprintf(a.errOut, "mfa: %s\n", describe(err))
		}
		if attempt >= maxCodeAttempts {
			return errReported
		}
	}
}

// showEnrollment prints the secret and optionally saves the QR code.
func (a *app) showEnrollment(e auth.MFAEnrollment, qrPath string) error {
	fmt.Fprintln(a.out, "Add this account to your authenticator app.")
	if e.Secret != "" {
		fmt.Fprintf(a.out, "Secret: %s\n", e.Secret)
	}
	if qrPath == "" {
		return nil
	}
	png, err := e.QRCodePNG()
	if err != nil {
		return err
	}
	if err := os.WriteFile(qrPath, png, 0o600); err != nil {
		return fmt.Errorf("write qr code: %w", err)
	}
	fmt.Fprintf(a.out, "QR code written to %s\n", qrPath)
	return nil
}
