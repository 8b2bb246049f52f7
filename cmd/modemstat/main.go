package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/modemstat/internal/config"
	"codeberg.org/mutker/modemstat/internal/driver"
	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/logger"
	"codeberg.org/mutker/modemstat/internal/normalize"
	"github.com/google/uuid"
)

const (
	exitOK          = 0
	exitOther       = 1
	exitUsage       = 2
	exitFetch       = 3
	exitUnsupported = 4
	exitMalformed   = 5
	exitValidation  = 6
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(stderr, "modemstat: %v\n", err)
		usage(stderr)
		return exitCode(err)
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.Init(level, uuid.NewString())
	logger.Debug().Str("path", cfg.Path).Str("command", cfg.Command()).Msg("Config loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cfg.Command() {
	case "get":
		err = get(ctx, cfg, stdout)
	case "plot":
		err = plotHistory(cfg, stdout, stderr)
	case "":
		err = errors.New().WithMessage(errors.ErrUsage, "missing command")
	default:
		err = errors.New().WithData(errors.ErrUsage, cfg.Command())
	}

	if err != nil {
		if ctx.Err() != nil {
			logger.Info().Msg("Interrupted")
		}
		logger.ErrorWithCode(err).Msg("Command failed")
		report(stderr, err)
		if errors.CodeOf(err) == errors.ErrUsage {
			usage(stderr)
		}
		return exitCode(err)
	}

	return exitOK
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: modemstat [flags] get ADDRESS")
	fmt.Fprintln(w, "       modemstat [flags] plot FILE")
	fmt.Fprintln(w)
	fmt.Fprint(w, config.NewFlagSet().FlagUsages())
}

// report prints the diagnosis the user needs to act on an error without
// rerunning at debug level.
func report(w io.Writer, err error) {
	fmt.Fprintf(w, "modemstat: %v\n", err)

	var ve *normalize.ValidationError
	if errors.As(err, &ve) {
		for _, v := range ve.Violations {
			fmt.Fprintf(w, "  %s\n", v)
		}
	}

	var me *driver.MalformedPayloadError
	if errors.As(err, &me) {
		fmt.Fprintf(w, "  at %s\n", me.Location())
	}
}

func exitCode(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrUsage,
		errors.ErrInvalidArgument,
		errors.ErrInvalidConfig,
		errors.ErrBindFlags,
		errors.ErrReadConfig,
		errors.ErrInvalidTimeout,
		errors.ErrInvalidRetries,
		errors.ErrInvalidBackoff,
		errors.ErrInvalidLogLevel,
		errors.ErrOutputPath:
		return exitUsage
	case errors.ErrFetch:
		return exitFetch
	case errors.ErrUnsupportedModel:
		return exitUnsupported
	case errors.ErrMalformedPayload:
		return exitMalformed
	case errors.ErrValidation:
		return exitValidation
	default:
		return exitOther
	}
}
