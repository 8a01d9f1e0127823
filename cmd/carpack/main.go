// carpack packs directories into Filecoin-ready CAR pieces with manifests
// and restores them with full verification.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kk-code-lab/carpack/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err == nil {
		return
	}
	code := exitCode(err)
	var coded *exitCodeError
	if code != 0 && !(errors.As(err, &coded) && coded.Quiet()) {
		fmt.Fprintf(os.Stderr, "carpack: %v\n", err)
	}
	os.Exit(code)
}

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, args []string, stdout io.Writer) error
}

func commands() []command {
	return []command{
		{"pack", "pack <paths...> -m metadata.json -o dir [--lite] [--hidden] [--target-car-size 32GB] [--catalog path]", runPack},
		{"unpack", "unpack <cars...> -o dir [-s manifest.json] [--verbose]", runUnpack},
		{"verify", "verify <cars...> [-s manifest.json]", runVerify},
		{"ls", "ls <car> [-r cid] [--verbose]", runList},
		{"status", "status --catalog path [--json]", runStatus},
		{"scrub", "scrub --catalog path [--json]", runScrub},
		{"snapshot", "snapshot --catalog path -o dir [--json]", runSnapshot},
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return &exitCodeError{code: 2, msg: "command required", quiet: true}
	}
	switch args[0] {
	case "version", "--version", "-v":
		_, err := fmt.Fprintf(stdout, "carpack %s (commit %s)\n", app.Version, app.BuildCommit)
		return err
	case "help", "--help", "-h":
		printUsage(stdout)
		return nil
	}
	for _, cmd := range commands() {
		if cmd.name == args[0] {
			return cmd.run(ctx, args[1:], stdout)
		}
	}
	printUsage(stderr)
	return &exitCodeError{code: 2, msg: fmt.Sprintf("unknown command %q", args[0])}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: carpack <command> [flags]")
	fmt.Fprintln(w)
	for _, cmd := range commands() {
		fmt.Fprintf(w, "  carpack %s\n", cmd.usage)
	}
	fmt.Fprintln(w, "  carpack version")
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("carpack "+name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

// parse wraps flag errors so they map to the usage exit code.
func parse(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	return cfg.Build()
}
