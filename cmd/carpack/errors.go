package main

import "errors"

var (
	ErrCatalogRequired  = errors.New("catalog required")
	ErrInputRequired    = errors.New("at least one input required")
	ErrMetadataRequired = errors.New("metadata file required")
	ErrOutputRequired   = errors.New("output dir required")
	ErrUsage            = errors.New("usage error")
)
