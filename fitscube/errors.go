package fitscube

import "github.com/pkg/errors"

var (
	// ErrAlreadyOpen is generated when Open is called on an open writer
	ErrAlreadyOpen = errors.New("a FITS file is already open")

	// ErrNotOpen is generated when a write is attempted with no file open
	ErrNotOpen = errors.New("no FITS file open")

	// ErrCreate is generated when the file cannot be created
	ErrCreate = errors.New("unable to create FITS file")

	// ErrHeader is generated when a keyword cannot be written to a header.
	// It is logged, never returned by Open.
	ErrHeader = errors.New("unable to write header keyword")

	// ErrWrite is generated when pixel data cannot be written
	ErrWrite = errors.New("unable to write FITS data")

	// ErrTimeout is generated when a wait for the extension sequence ran out
	ErrTimeout = errors.New("timeout waiting for FITS extension sequence")

	// ErrFailed is generated when another worker of the same file failed
	ErrFailed = errors.New("a FITS writing worker failed")
)
