package errors

import "errors"

// Configuration and structural errors. These abort a run entirely.
var (
	ErrConfig         = errors.New("missing or invalid configuration")
	ErrMappingMissing = errors.New("mapping file not found")
	ErrMappingInvalid = errors.New("mapping file is malformed")
)

// Per-entity errors. These are collected into the run result and do not
// stop processing of remaining entities.
var (
	ErrVersionConflict = errors.New("remote version conflict")
	ErrNotFound        = errors.New("remote entity not found")
	ErrPathCollision   = errors.New("target path occupied by a different page")
	ErrParse           = errors.New("metadata block malformed")
	ErrTraversal       = errors.New("path escapes sync root")
)

// Remote/transport errors.
var (
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")
)
