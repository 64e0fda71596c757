// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

// distcc-dispatch runs one compile job against a remote compile
// server. It optionally starts the local preprocessor in the
// background, holds a local CPU admission slot while the preprocessor
// runs, ships the request, and materializes the results locally. Its
// exit code is the remote compiler's exit code when the exchange
// succeeds, and a distinct dispatch code when it does not, so build
// wrappers can tell "the code is broken" from "the network is".
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/xionghul/distcc/auth"
	"github.com/xionghul/distcc/dispatch"
	"github.com/xionghul/distcc/hosts"
	"github.com/xionghul/distcc/lib/clock"
	"github.com/xionghul/distcc/lib/process"
	"github.com/xionghul/distcc/lock"
	"github.com/xionghul/distcc/retrieve"
	"github.com/xionghul/distcc/state"
	"github.com/xionghul/distcc/tempfile"
)

// dispatchFailedExit is the exit code for failures of the dispatch
// machinery itself, distinct from any compiler exit code.
const dispatchFailedExit = 103

// signalExitBase offsets a fatal signal number into an exit code, the
// shell convention.
const signalExitBase = 128

func main() {
	var (
		configPath   = pflag.String("config", "", "hosts configuration file (YAML)")
		hostSpec     = pflag.String("host", "", "host specification, overriding the configuration's first host")
		secretFile   = pflag.String("secret-file", "", "shared-secret file for authenticating hosts")
		cppCommand   = pflag.StringArray("cpp", nil, "local preprocessor argv, repeated per word; runs in the background")
		inputName    = pflag.String("input", "", "original source file, for diagnostics and monitors")
		preprocessed = pflag.String("preprocessed", "", "preprocessed unit the --cpp command produces")
		sources      = pflag.StringArray("source", nil, "raw source file for server-side preprocessing, repeatable")
		outputName   = pflag.String("output", "", "object file to write")
		depsName     = pflag.String("deps", "", "dependency file to write, when the server sends one")
		stderrName   = pflag.String("server-stderr", "", "capture file for the remote compiler's stderr")
		distLTO      = pflag.Bool("dist-lto", false, "distributed LTO job; never relays profile artifacts")
		verbose      = pflag.BoolP("verbose", "v", false, "debug-level logging")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] -- compiler-arg...\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := process.NewLogger(level)

	compilerArgs := pflag.Args()
	if len(compilerArgs) == 0 {
		pflag.Usage()
		os.Exit(dispatchFailedExit)
	}

	config := hosts.Default()
	var definitions []*hosts.Definition
	var err error
	if *configPath != "" {
		config, definitions, err = hosts.Load(*configPath)
		if err != nil {
			process.Fatal(fmt.Errorf("loading configuration: %w", err))
		}
	}
	host, err := chooseHost(definitions, *hostSpec)
	if err != nil {
		process.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := tempfile.NewRegistry()
	noter := state.NewNoter(config.StateDir, clock.Real())
	defer noter.Close()
	noter.Note(state.PhaseStartup, *inputName, host.Hostname)

	dispatcher := &dispatch.Dispatcher{
		Logger:    logger,
		Registry:  registry,
		Noter:     noter,
		Retriever: &retrieve.ProtocolRetriever{Logger: logger, Noter: noter},
	}
	if host.Authenticate {
		dispatcher.Auth, err = loadAuth(*secretFile, config.SecretFile)
		if err != nil {
			process.Fatal(err)
		}
	}

	job := &dispatch.Job{
		Args:             compilerArgs,
		InputName:        *inputName,
		PreprocessedName: *preprocessed,
		SourceFiles:      *sources,
		OutputName:       *outputName,
		DepsName:         *depsName,
		ServerStderrName: *stderrName,
		DistLTO:          *distLTO,
	}

	if host.CPPWhere == hosts.CPPOnClient && len(*cppCommand) > 0 {
		if *preprocessed == "" {
			process.Fatal(fmt.Errorf("--cpp requires --preprocessed"))
		}
		if config.LockDir != "" {
			job.Lock, err = lock.Acquire(ctx, clock.Real(), config.LockDir, config.Slots)
			if err != nil {
				process.Fatal(fmt.Errorf("acquiring admission slot: %w", err))
			}
		}
		job.Preprocessor, err = startPreprocessor(logger, *cppCommand)
		if err != nil {
			if job.Lock != nil {
				job.Lock.Release()
			}
			process.Fatal(err)
		}
	}

	outcome, err := dispatcher.Run(ctx, host, job)
	if err != nil {
		logger.Error("dispatch failed",
			"outcome", outcome.Code.String(),
			"retryable", outcome.Code.Retryable(),
			"error", err)
		os.Exit(dispatchFailedExit)
	}
	os.Exit(exitCode(outcome.Status))
}

// chooseHost resolves the target host from the override specification
// or the configuration's host list.
func chooseHost(definitions []*hosts.Definition, spec string) (*hosts.Definition, error) {
	if spec != "" {
		definition, err := hosts.ParseSpec(spec)
		if err != nil {
			return nil, err
		}
		return definition, nil
	}
	if len(definitions) == 0 {
		return nil, fmt.Errorf("no hosts configured; pass --host or a --config with hosts")
	}
	return definitions[0], nil
}

// loadAuth builds the handshake context from the first configured
// secret file.
func loadAuth(flagPath, configPath string) (*auth.Context, error) {
	path := flagPath
	if path == "" {
		path = configPath
	}
	if path == "" {
		return nil, fmt.Errorf("host requires authentication; pass --secret-file")
	}
	secret, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secret file: %w", err)
	}
	authContext, err := auth.NewContext([]byte(strings.TrimSpace(string(secret))))
	if err != nil {
		return nil, fmt.Errorf("deriving authentication key: %w", err)
	}
	return authContext, nil
}

// startPreprocessor launches the preprocessor argv in the background.
// The dispatcher collects it at the overlap point.
func startPreprocessor(logger *slog.Logger, argv []string) (*os.Process, error) {
	command := exec.Command(argv[0], argv[1:]...)
	command.Stdout = os.Stdout
	command.Stderr = os.Stderr
	if err := command.Start(); err != nil {
		return nil, fmt.Errorf("starting preprocessor %q: %w", argv[0], err)
	}
	logger.Debug("preprocessor started", "command", argv[0], "pid", command.Process.Pid)
	return command.Process, nil
}

// exitCode maps a compiler wait status onto this process's exit code.
func exitCode(status process.ExitStatus) int {
	if status.Signaled {
		return signalExitBase + int(status.Signal)
	}
	return status.Code
}
