package media

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

var (
	ErrNoSources   = errors.New("no capture source configured")
	ErrUnsupported = errors.New("unsupported capture format")
)

// Category classifies why local media could not be acquired.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryPermission
	CategoryNotFound
	CategoryBusy
	CategoryUnsupported
)

func (c Category) String() string {
	switch c {
	case CategoryPermission:
		return "permission"
	case CategoryNotFound:
		return "not-found"
	case CategoryBusy:
		return "busy"
	case CategoryUnsupported:
		return "constraints-unsupported"
	default:
		return "unknown"
	}
}

// AcquireError is returned by Source.Acquire.
type AcquireError struct {
	Category Category
	Path     string
	Err      error
}

func (e *AcquireError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("acquire media (%s) %s: %v", e.Category, e.Path, e.Err)
	}
	return fmt.Sprintf("acquire media (%s): %v", e.Category, e.Err)
}

func (e *AcquireError) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown to the user for this failure.
func (e *AcquireError) UserMessage() string {
	msg := "An error occurred with the video call. "
	switch e.Category {
	case CategoryPermission:
		return msg + "Please allow camera and microphone access, then try again."
	case CategoryNotFound:
		return msg + "No camera or microphone found. Please check your devices."
	case CategoryBusy:
		return msg + "Your camera/microphone is being used by another application."
	case CategoryUnsupported:
		return msg + "Camera settings not supported by your device."
	default:
		return msg + "Please check your connection and try again."
	}
}

// UserMessage returns the user-facing text for any acquisition error.
func UserMessage(err error) string {
	var acqErr *AcquireError
	if errors.As(err, &acqErr) {
		return acqErr.UserMessage()
	}
	return (&AcquireError{Err: err}).UserMessage()
}

func classify(path string, err error) *AcquireError {
	var acqErr *AcquireError
	if errors.As(err, &acqErr) {
		return acqErr
	}

	category := CategoryUnknown
	switch {
	case errors.Is(err, ErrNoSources), errors.Is(err, fs.ErrNotExist):
		category = CategoryNotFound
	case errors.Is(err, fs.ErrPermission):
		category = CategoryPermission
	case errors.Is(err, syscall.EBUSY), errors.Is(err, syscall.ETXTBSY):
		category = CategoryBusy
	case errors.Is(err, ErrUnsupported):
		category = CategoryUnsupported
	}
	return &AcquireError{Category: category, Path: path, Err: err}
}
