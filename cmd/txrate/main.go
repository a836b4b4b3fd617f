package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gologme/log"
	gsyslog "github.com/hashicorp/go-syslog"
	"github.com/kardianos/minwinsvc"

	"github.com/RiV-chain/txrate/src/transfer"
	"github.com/RiV-chain/txrate/src/util"
	"github.com/RiV-chain/txrate/src/version"
)

const (
	exitOK          = 0
	exitUsage       = 1
	exitSetup       = 2
	exitTransfer    = 3
	exitInterrupted = 130
)

func main() {
	// Catch interrupts from the operating system to stop the transfer gracefully.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// Capture the service being stopped on Windows.
	minwinsvc.SetOnExit(cancel)

	// makes sure we can use defer and still return an error code to the OS
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	env, err := parseArgs(argv, stdout)
	switch {
	case errors.Is(err, errHelp):
		return exitOK
	case err != nil:
		return exitUsage
	}

	logger, closer := newLogger(env.LogTo, stdout)
	if closer != nil {
		defer closer.Close()
	}
	setLogLevel(env.LogLevel, logger)

	port, exact := parsePort(env.Port)
	if !exact {
		logger.Warnf("Port %q is not a plain number, using %d", env.Port, port)
	}

	// The cancellation is the interrupt flag polled by the transfer loop.
	cancellation := util.NewCancellation()
	defer cancellation.Cancel(nil)
	go func() {
		select {
		case <-ctx.Done():
			cancellation.Cancel(transfer.ErrInterrupted)
		case <-cancellation.Finished():
		}
	}()

	options := env.setupOptions(stdout, stderr)
	var result *transfer.Result
	if env.isServer() {
		result, err = runServer(ctx, cancellation, logger, env.Address, port, options)
	} else {
		if env.Role != "client" {
			logger.Warnf("Unrecognised role %q, acting as client", env.Role)
		}
		result, err = runClient(ctx, cancellation, logger, env.Address, port, options)
	}
	if err != nil {
		if errors.Is(err, transfer.ErrInterrupted) {
			logger.Infoln("Interrupted before the transfer started")
			return exitInterrupted
		}
		logger.Errorln(err)
		if errors.Is(err, transfer.ErrRead) {
			return exitTransfer
		}
		return exitSetup
	}

	logger.Debugf("Transfer ended: %s", result.End)
	if err := result.Report().Write(stdout, env.format); err != nil {
		logger.Errorln("Failed to write report:", err)
	}
	return exitOK
}

func runServer(ctx context.Context, c util.Cancellation, logger *log.Logger, address string, port int, options []transfer.SetupOption) (*transfer.Result, error) {
	r := transfer.NewReceiver(logger, options...)
	if err := r.Listen(ctx, address, port); err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Serve(c)
}

func runClient(ctx context.Context, c util.Cancellation, logger *log.Logger, address string, port int, options []transfer.SetupOption) (*transfer.Result, error) {
	s := transfer.NewSender(logger, options...)
	if err := s.Dial(ctx, address, port); err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Send(c)
}

// newLogger creates the logger selected by -logto. The returned closer, if
// any, releases a log file.
func newLogger(logto string, stdout io.Writer) (*log.Logger, io.Closer) {
	var logger *log.Logger
	var closer io.Closer
	switch logto {
	case "stdout":
		logger = log.New(stdout, "", log.Flags())

	case "syslog":
		if syslogger, err := gsyslog.NewLogger(gsyslog.LOG_NOTICE, "DAEMON", version.BuildName()); err == nil {
			logger = log.New(syslogger, "", log.Flags()&^(log.Ldate|log.Ltime))
		}

	default:
		if logfd, err := os.OpenFile(logto, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
			logger = log.New(logfd, "", log.Flags())
			closer = logfd
		}
	}
	if logger == nil {
		logger = log.New(stdout, "", log.Flags())
		logger.Warnln("Logging defaulting to stdout")
	}
	return logger, closer
}

func setLogLevel(loglevel string, logger *log.Logger) {
	levels := [...]string{"error", "warn", "info", "debug", "trace"}
	loglevel = strings.ToLower(loglevel)

	contains := func() bool {
		for _, l := range levels {
			if l == loglevel {
				return true
			}
		}
		return false
	}

	if !contains() { // set default log level
		logger.Infoln("Loglevel parse failed. Set default level(info)")
		loglevel = "info"
	}

	for _, l := range levels {
		logger.EnableLevel(l)
		if l == loglevel {
			break
		}
	}
}
