// Command filefortress signs in to a FileFortress server from the terminal.
//
//	filefortress login [-email addr]
//	filefortress register [-qr file.png]
//	filefortress whoami | status | logout
//	filefortress mfa-setup [-qr file.png]
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
