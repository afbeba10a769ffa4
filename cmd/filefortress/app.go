package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/filefortress/filefortress/internal/auth"
	"github.com/filefortress/filefortress/internal/config"
	"github.com/filefortress/filefortress/internal/flow"
	"github.com/filefortress/filefortress/internal/httpclient"
	"github.com/filefortress/filefortress/internal/logging"
	"github.com/filefortress/filefortress/internal/notification"
	"github.com/filefortress/filefortress/internal/session"
	"github.com/filefortress/filefortress/internal/state"
)

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2

	maxCodeAttempts = 3
)

// errReported marks a failure whose message was already printed.
var errReported = errors.New("reported")

const usage = `usage: filefortress <command> [flags]

commands:
  login       sign in with email, password and authenticator code
  register    create an account and enroll an authenticator
  whoami      show the signed-in user
  status      show the stored session
  logout      forget the stored session
  mfa-setup   enroll a new authenticator for the signed-in user
`

type app struct {
	cfg    config.Config
	logger *slog.Logger
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer

	store    session.Store
	svc      *auth.Service
	state    *state.Container
	notifier notification.Notifier
	route    string
}

type command func(a *app, ctx context.Context, args []string) error

var commands = map[string]command{
	"login":     (*app).login,
	"register":  (*app).register,
	"whoami":    (*app).whoami,
	"status":    (*app).status,
	"logout":    (*app).logout,
	"mfa-setup": (*app).mfaSetup,
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return exitFail
	}
	logger := logging.NewWithWriter(stderr, cfg.LogLevel, cfg.LogFormat)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("open session store", slog.String("backend", cfg.SessionBackend), slog.Any("error", err))
		return exitFail
	}
	defer closeStore()

	client, err := httpclient.New(httpclient.Options{
		BaseURL: cfg.APIURL,
		Timeout: cfg.RequestTimeout,
		Tokens:  store,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("build http client", slog.Any("error", err))
		return exitFail
	}

	svc := auth.NewService(client, store, logger)
	var notifier notification.Notifier = notification.NewWriterNotifier(stdout)
	if cfg.LogFormat == "json" {
		// Machine-readable runs keep stdout for command output only.
		notifier = notification.NewLoggerNotifier(logger)
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		in:       bufio.NewReader(stdin),
		out:      stdout,
		errOut:   stderr,
		store:    store,
		svc:      svc,
		state:    state.New(svc),
		notifier: notifier,
	}

	if err := cmd(a, ctx, args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitUsage
		}
		if !errors.Is(err, errReported) {
			fmt.Fprintln(stderr, describe(err))
		}
		return exitFail
	}
	return exitOK
}

func (a *app) navigator() flow.Navigator {
	return flow.NavigatorFunc(func(_ context.Context, route string) error {
		a.route = route
		a.logger.Debug("navigate", slog.String("route", route))
		return nil
	})
}

// prompt prints label and reads one line without its line ending.
func (a *app) prompt(label string) (string, error) {
	fmt.Fprintf(a.out, "%s: ", label)
	line, err := a.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%s: no input", strings.ToLower(label))
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// printErrors writes field errors in a stable order and returns errReported.
func (a *app) printErrors(errs map[string]string) error {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(a.errOut, "%s: %s\n", k, errs[k])
	}
	return errReported
}

// describe renders an error for the terminal.
func describe(err error) string {
	var ae *auth.Error
	if !errors.As(err, &ae) {
		return err.Error()
	}
	switch {
	case ae.Network():
		return "Network error. Please try again."
	case ae.Status == 401 || ae.Status == 403:
		return "Not signed in. Run `filefortress login` first."
	case ae.Message != "" && ae.Detail != "":
		return ae.Message + ": " + ae.Detail
	case ae.Message != "":
		return ae.Message
	case ae.Detail != "":
		return ae.Detail
	default:
		return ae.Error()
	}
}
