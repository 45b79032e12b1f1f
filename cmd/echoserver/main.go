// Command echoserver runs the QUIC/HTTP3/WebTransport echo server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/corvidquic/echoserver/internal/engine"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: echoserver <command>\n\nCommands:\n  serve    Start the QUIC echo/HTTP3/WebTransport server\n")
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", engine.DefaultAddr, "UDP address to listen on")
	certFile := fs.String("cert", "", "TLS certificate file (leave empty with -key for a self-signed dev cert)")
	keyFile := fs.String("key", "", "TLS private key file")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.Parse(args)

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level %q: %v\n", *logLevel, err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ln, err := engine.Listen(engine.Config{
		Addr:     *addr,
		CertFile: *certFile,
		KeyFile:  *keyFile,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("listen failed", "error", err)
		os.Exit(1)
	}
	defer ln.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- ln.Serve(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		ln.Close()
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			logger.Error("serve error", "error", err)
			os.Exit(1)
		}
	}
}
