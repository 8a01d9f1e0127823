package main

import (
	"errors"

	"github.com/spf13/pflag"

	"github.com/kk-code-lab/carpack/internal/batch"
	"github.com/kk-code-lab/carpack/internal/bytesize"
	"github.com/kk-code-lab/carpack/internal/pack"
	"github.com/kk-code-lab/carpack/internal/storage/manifest"
)

type exitCodeError struct {
	code  int
	msg   string
	quiet bool
}

func (e *exitCodeError) Error() string {
	return e.msg
}

func (e *exitCodeError) ExitCode() int {
	return e.code
}

func (e *exitCodeError) Quiet() bool {
	return e.quiet
}

var usageErrors = []error{
	ErrUsage,
	ErrOutputRequired,
	ErrMetadataRequired,
	ErrCatalogRequired,
	ErrInputRequired,
	manifest.ErrUnsupportedVersion,
	manifest.ErrInvalidMetadata,
	bytesize.ErrInvalid,
	batch.ErrInvalidBudget,
	batch.ErrTooLarge,
	pack.ErrNoFiles,
}

// exitCode is 2 for configuration and usage errors, 1 otherwise.
func exitCode(err error) int {
	var coded *exitCodeError
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	for _, target := range usageErrors {
		if errors.Is(err, target) {
			return 2
		}
	}
	return 1
}
