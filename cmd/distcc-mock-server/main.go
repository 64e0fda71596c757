// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

// distcc-mock-server answers compile requests with canned results. It
// exists for protocol-level testing of dispatch clients: it decodes
// every request completely, logs what it saw, and replies with a
// configurable exit status and object payload without running any
// compiler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/xionghul/distcc/auth"
	"github.com/xionghul/distcc/lib/process"
	"github.com/xionghul/distcc/mockserver"
	"github.com/xionghul/distcc/wire"
)

func main() {
	var (
		listenAddress = pflag.String("listen", ":3632", "TCP listen address")
		stdio         = pflag.Bool("stdio", false, "serve one exchange on stdin/stdout, tunnel style")
		secretFile    = pflag.String("secret-file", "", "demand the shared-secret handshake with this secret")
		compression   = pflag.String("compression", "none", "payload compression: none, lz4, or zstd")
		exitCode      = pflag.Int("exit-code", 0, "compiler exit code to report")
		objectFile    = pflag.String("object", "", "file whose bytes become the object payload")
		stderrText    = pflag.String("stderr", "", "compiler stderr to relay")
		verbose       = pflag.BoolP("verbose", "v", false, "debug-level logging")
	)
	pflag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := process.NewLogger(level)

	setting, err := wire.ParseCompression(*compression)
	if err != nil {
		process.Fatal(err)
	}

	server := &mockserver.Server{
		Logger:      logger,
		Compression: setting,
	}
	if *secretFile != "" {
		secret, err := os.ReadFile(*secretFile)
		if err != nil {
			process.Fatal(fmt.Errorf("reading secret file: %w", err))
		}
		server.Auth, err = auth.NewContext([]byte(strings.TrimSpace(string(secret))))
		if err != nil {
			process.Fatal(fmt.Errorf("deriving authentication key: %w", err))
		}
	}

	var object []byte
	if *objectFile != "" {
		object, err = os.ReadFile(*objectFile)
		if err != nil {
			process.Fatal(fmt.Errorf("reading object file: %w", err))
		}
	}
	canned := &mockserver.Response{
		WaitWord: process.ExitStatus{Code: *exitCode}.Wait(),
		Stderr:   []byte(*stderrText),
		Object:   object,
	}
	server.Respond = func(request *mockserver.Request) *mockserver.Response {
		logger.Info("request served",
			"args", strings.Join(request.Args, " "),
			"preprocessedBytes", len(request.Preprocessed),
			"sources", len(request.Sources),
			"profile", request.ProfilePresent)
		return canned
	}

	if *stdio {
		if err := server.ServeConn(stdioStream{}); err != nil {
			process.Fatal(err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", *listenAddress)
	if err != nil {
		process.Fatal(fmt.Errorf("listening on %s: %w", *listenAddress, err))
	}
	logger.Info("listening", "address", listener.Addr().String())
	if err := server.Serve(ctx, listener); err != nil {
		process.Fatal(err)
	}
}

// stdioStream adapts the process's stdin/stdout into one duplex
// stream for tunnel-style serving.
type stdioStream struct{}

func (stdioStream) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioStream) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
