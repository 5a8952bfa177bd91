// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	//nolint:gosec
	_ "net/http/pprof"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/perfsampler/agent/internal/controller"
	"github.com/perfsampler/agent/vc"
)

type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1

	// Go 'flag' package calls os.Exit(2) on flag parse errors, if ExitOnError is set
	exitParseError exitCode = 2
)

func main() {
	os.Exit(int(mainWithExitCode()))
}

func mainWithExitCode() exitCode {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		return parseError("Failure to parse arguments: %v", err)
	}

	if cfg.Version {
		fmt.Printf("%s\n", vc.Version())
		return exitSuccess
	}

	if cfg.VerboseMode {
		log.SetLevel(log.DebugLevel)
		// Dump the arguments in debug mode.
		cfg.Dump()
	}

	if err = cfg.Validate(); err != nil {
		return failure(err)
	}

	ctlr := controller.New(cfg)

	if cfg.ListCounters {
		if err = ctlr.WriteCounters(os.Stdout); err != nil {
			return failure(err)
		}
		return exitSuccess
	}

	// Context to drive main goroutine and the capture session.
	mainCtx, mainCancel := signal.NotifyContext(context.Background(),
		unix.SIGINT, unix.SIGTERM, unix.SIGABRT)
	defer mainCancel()

	if cfg.PprofAddr != "" {
		go func() {
			//nolint:gosec
			if err := http.ListenAndServe(cfg.PprofAddr, nil); err != nil {
				log.Errorf("Serving pprof on %s failed: %s", cfg.PprofAddr, err)
			}
		}()
	}

	log.Infof("Starting perf sampler %s", vc.Summary())

	if err = ctlr.Start(mainCtx); err != nil {
		ctlr.Shutdown()
		return failure(err)
	}

	// Block until a signal indicates the program should terminate
	err = ctlr.Run(mainCtx)
	ctlr.Shutdown()
	if err != nil {
		return failure(err)
	}

	log.Info("Exiting ...")
	return exitSuccess
}

func parseError(msg string, args ...interface{}) exitCode {
	log.Errorf(msg, args...)
	return exitParseError
}

func failure(err error) exitCode {
	log.Error(err)
	var exitErr controller.ErrorWithExitCode
	if errors.As(err, &exitErr) {
		return exitCode(exitErr.Code())
	}
	return exitFailure
}
