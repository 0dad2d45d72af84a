package converter

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
)

// User-safe failure categories. Raw tool errors (missing binaries, signals,
// stderr dumps) are never surfaced to callers; they are mapped onto this
// fixed set and the raw detail stays in the logs.
const (
	CategoryToolMissing       = "tool not installed"
	CategoryTimeout           = "timed out"
	CategoryPermissionDenied  = "permission denied"
	CategoryInputInaccessible = "input inaccessible"
	CategoryGeneric           = "conversion failed"
)

// Normalize maps a low-level converter error to its user-safe category.
func Normalize(err error) string {
	if err == nil {
		return CategoryGeneric
	}

	switch {
	case errors.Is(err, exec.ErrNotFound):
		return CategoryToolMissing
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, os.ErrPermission):
		return CategoryPermissionDenied
	case errors.Is(err, os.ErrNotExist):
		return CategoryInputInaccessible
	}

	// exec wraps lookup failures in *exec.Error
	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return CategoryToolMissing
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "executable file not found"):
		return CategoryToolMissing
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timed out"):
		return CategoryTimeout
	case strings.Contains(msg, "permission denied"):
		return CategoryPermissionDenied
	case strings.Contains(msg, "no such file"):
		return CategoryInputInaccessible
	}

	return CategoryGeneric
}
