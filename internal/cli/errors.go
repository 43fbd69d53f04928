// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Unified error handling for planrun commands.
//
// Handlers return errors and never print-and-swallow them; main displays
// the error once and exits with GetExitCode.

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/jeranaias/planrun/internal/cloud"
	"github.com/jeranaias/planrun/internal/config"
	"github.com/jeranaias/planrun/internal/llm"
	"github.com/jeranaias/planrun/internal/ollama"
	"github.com/jeranaias/planrun/internal/plan"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage, arguments or plan files
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates the backend rejected our credentials
	ExitAuthError = 4
	// ExitNetworkError indicates the backend could not be reached
	ExitNetworkError = 5
	// ExitBackendError indicates the backend answered with an error
	ExitBackendError = 6
	// ExitNotFoundError indicates a file or model was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
	// ExitInterrupted follows the shell convention for SIGINT
	ExitInterrupted = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // Command that failed (e.g., "run", "config")
	Action  string // Action being performed (e.g., "compile", "set")
	Reason  string // Human-readable reason
	Err     error  // Underlying error (if any)
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Command, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Command, e.Action, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ValidationError represents a validation failure for user input.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   string // Value that was provided
	Reason  string // Why validation failed
	Example string // Example of valid value (optional)
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	Resource string // Type of resource (e.g., "plan file", "model")
	ID       string // Identifier that was not found
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// =============================================================================
// ERROR CONSTRUCTION HELPERS
// =============================================================================

// NewCommandError creates a new command error.
func NewCommandError(command, action, reason string, err error) error {
	return &CommandError{
		Command: command,
		Action:  action,
		Reason:  reason,
		Err:     err,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// NewValidationErrorWithExample creates a validation error with an example.
func NewValidationErrorWithExample(field, value, reason, example string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Reason:  reason,
		Example: example,
	}
}

// ErrMissingArgument creates an error for missing required arguments.
func ErrMissingArgument(argName, usage string) error {
	return NewValidationErrorWithExample(argName, "", "required argument missing", usage)
}

// ErrInvalidFormat creates an error for invalid format.
func ErrInvalidFormat(field, value, expected string) error {
	return NewValidationErrorWithExample(field, value, "invalid format", expected)
}

// =============================================================================
// ERROR DISPLAY
// =============================================================================

// DisplayError writes err to w in a consistent format, as JSON when
// jsonMode is set.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}

	if jsonMode {
		DisplayErrorJSON(w, err)
		return
	}

	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
	if hint := errorHint(err); hint != "" {
		fmt.Fprintf(w, "%s\n", DimStyle.Render("  "+hint))
	}
}

// DisplayErrorJSON outputs an error as JSON.
func DisplayErrorJSON(w io.Writer, err error) {
	output := map[string]any{
		"error":     err.Error(),
		"success":   false,
		"exit_code": GetExitCode(err),
	}

	var (
		cmdErr      *CommandError
		validErr    *ValidationError
		notFoundErr *NotFoundError
	)
	switch {
	case errors.As(err, &validErr):
		output["error_type"] = "validation_error"
		output["field"] = validErr.Field
		output["reason"] = validErr.Reason
		if validErr.Example != "" {
			output["example"] = validErr.Example
		}
	case errors.As(err, &notFoundErr):
		output["error_type"] = "not_found_error"
		output["resource"] = notFoundErr.Resource
		output["id"] = notFoundErr.ID
	case errors.As(err, &cmdErr):
		output["error_type"] = "command_error"
		output["command"] = cmdErr.Command
		output["action"] = cmdErr.Action
		output["reason"] = cmdErr.Reason
		if cmdErr.Err != nil {
			output["underlying_error"] = cmdErr.Err.Error()
		}
	default:
		output["error_type"] = "generic_error"
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(output)
}

// errorHint suggests a next step for the errors users hit most.
func errorHint(err error) string {
	switch {
	case errors.Is(err, ollama.ErrNotRunning):
		return "Start Ollama with `ollama serve`, or run `planrun doctor`."
	case errors.Is(err, ollama.ErrModelNotFound):
		return "Pull the model with `ollama pull <model>`."
	case errors.Is(err, cloud.ErrNotConfigured):
		return "Set PLANRUN_API_KEY or `planrun config set cloud.api_key <key>`."
	case errors.Is(err, cloud.ErrAuthFailed):
		return "Check the API key with `planrun doctor`."
	}
	return ""
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode determines the appropriate exit code for an error. Typed
// errors are checked first; the message is only inspected for errors from
// outside planrun.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		validationErr *ValidationError
		ttyErr        *TTYRequiredError
		notFoundErr   *NotFoundError
		cfgErrs       config.ValidateErrors
		cfgErr        config.ValidationError
		compileErr    *plan.CompilationError
		graphErr      *plan.GraphError
		genErr        *llm.GenerationError
	)

	switch {
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.As(err, &validationErr), errors.As(err, &ttyErr):
		return ExitUsageError
	case errors.As(err, &notFoundErr), errors.Is(err, fs.ErrNotExist),
		errors.Is(err, ollama.ErrModelNotFound), errors.Is(err, cloud.ErrModelNotFound):
		return ExitNotFoundError
	case errors.As(err, &cfgErrs), errors.As(err, &cfgErr), errors.Is(err, cloud.ErrNotConfigured):
		return ExitConfigError
	case errors.Is(err, cloud.ErrAuthFailed):
		return ExitAuthError
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ollama.ErrTimeout),
		errors.Is(err, plan.ErrActionTimeout):
		return ExitTimeoutError
	case errors.Is(err, ollama.ErrNotRunning):
		return ExitNetworkError
	case errors.As(err, &compileErr):
		if errors.As(compileErr.Err, &genErr) {
			return ExitBackendError
		}
		return ExitGeneralError
	case errors.As(err, &graphErr), errors.Is(err, plan.ErrInvalidPlan):
		return ExitUsageError
	case errors.As(err, &genErr):
		return ExitBackendError
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "connection refused"),
		strings.Contains(errMsg, "no such host"),
		strings.Contains(errMsg, "unreachable"),
		strings.Contains(errMsg, "dial"):
		return ExitNetworkError
	case strings.Contains(errMsg, "timed out"),
		strings.Contains(errMsg, "deadline exceeded"):
		return ExitTimeoutError
	case strings.Contains(errMsg, "unauthorized"),
		strings.Contains(errMsg, "forbidden"):
		return ExitAuthError
	}

	return ExitGeneralError
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
