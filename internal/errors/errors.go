// Package errors implements the mission error taxonomy: five numeric
// families (network, tool, service, data, internal) each tagged with
// retry/recovery semantics so phases can decide whether to continue.
package errors

import (
	"errors"
	"fmt"
)

// Family groups error codes by the first digit of their three-digit code.
type Family string

const (
	FamilyNetwork  Family = "network"
	FamilyTool     Family = "tool"
	FamilyService  Family = "service"
	FamilyData     Family = "data"
	FamilyInternal Family = "internal"
)

// Well-known codes, spec.md §7.
const (
	ENetworkTimeout     = "E101"
	ENetworkConnRefused = "E102"
	ENetworkDNS         = "E103"
	ENetworkTLS         = "E104"

	EToolNotFound      = "E201"
	EToolExecFailed    = "E202"
	EToolTimeout       = "E203"
	EToolInvalidOutput = "E204"

	EServiceUnavailable = "E301"
	EServiceRateLimited = "E302"
	EServiceAuth        = "E303"

	EDataParse      = "E401"
	EDataValidation = "E402"
	EDataNotFound   = "E403"

	EInternalGeneric       = "E501"
	EInternalAgent         = "E502"
	EInternalLLM           = "E503"
	EInternalSerialization = "E504"
)

// ReconError is the typed error every component surfaces for
// mission-facing failures. Stage mirrors the phase name in progress
// when the error occurred.
type ReconError struct {
	Code        string
	Stage       string
	Message     string
	Retryable   bool
	Recoverable bool
	cause       error
}

func (e *ReconError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Code, e.Stage, e.Message, e.cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Code, e.Stage, e.Message)
}

func (e *ReconError) Unwrap() error { return e.cause }

// Wrap attaches a ReconError code/stage to an underlying error.
func Wrap(code, stage, message string, cause error, retryable, recoverable bool) *ReconError {
	return &ReconError{Code: code, Stage: stage, Message: message, Retryable: retryable, Recoverable: recoverable, cause: cause}
}

func Network(code, stage, message string, cause error) *ReconError {
	return Wrap(code, stage, message, cause, true, true)
}

func Tool(code, stage, message string, cause error) *ReconError {
	retryable := code == EToolTimeout
	return Wrap(code, stage, message, cause, retryable, true)
}

func Service(code, stage, message string, cause error) *ReconError {
	retryable := code == EServiceRateLimited
	return Wrap(code, stage, message, cause, retryable, true)
}

func Data(code, stage, message string, cause error) *ReconError {
	return Wrap(code, stage, message, cause, false, true)
}

func Internal(code, stage, message string, cause error) *ReconError {
	recoverable := code == EInternalLLM || code == EInternalSerialization
	terminal := code == EInternalGeneric
	return Wrap(code, stage, message, cause, false, recoverable && !terminal)
}

// As is a thin re-export so callers don't need a second import for
// the common case of unwrapping a ReconError.
func As(err error, target **ReconError) bool {
	return errors.As(err, target)
}

// Family classifies a code by its leading digit.
func (e *ReconError) Family() Family {
	if len(e.Code) < 2 {
		return FamilyInternal
	}
	switch e.Code[1] {
	case '1':
		return FamilyNetwork
	case '2':
		return FamilyTool
	case '3':
		return FamilyService
	case '4':
		return FamilyData
	default:
		return FamilyInternal
	}
}
