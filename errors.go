package deployer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors - plan construction.
var (
	// ErrDuplicateDeclaration indicates two declarations share a name.
	ErrDuplicateDeclaration = errors.New("deployer: duplicate declaration")

	// ErrUnknownReference indicates a reference names no declaration in the set.
	ErrUnknownReference = errors.New("deployer: unknown reference")

	// ErrCyclicDependency indicates the declarations depend on each other in a cycle.
	ErrCyclicDependency = errors.New("deployer: cyclic dependency")

	// ErrUnknownParameter indicates a parameter placeholder has no value.
	ErrUnknownParameter = errors.New("deployer: unknown parameter")

	// ErrUnknownContract indicates no artifact is registered under the contract name.
	ErrUnknownContract = errors.New("deployer: unknown contract")

	// ErrInvalidDeclaration indicates a declaration is missing required fields.
	ErrInvalidDeclaration = errors.New("deployer: invalid declaration")

	// ErrArgumentCount indicates the argument list doesn't match the ABI inputs.
	ErrArgumentCount = errors.New("deployer: wrong number of arguments")
)

// Sentinel errors - execution.
var (
	// ErrArgumentOverflow indicates a value does not fit the parameter's bit width.
	ErrArgumentOverflow = errors.New("deployer: argument overflows parameter type")

	// ErrSubmission indicates the network rejected or failed to carry an action.
	ErrSubmission = errors.New("deployer: submission failed")

	// ErrRevert indicates the action executed but the EVM reported failure.
	ErrRevert = errors.New("deployer: execution reverted")

	// ErrTimeout indicates the action did not resolve within the action timeout.
	ErrTimeout = errors.New("deployer: action timed out")

	// ErrJournalWriteFailure indicates progress could not be persisted. Fatal.
	ErrJournalWriteFailure = errors.New("deployer: journal write failed")

	// ErrJournalRead indicates the journal could not be queried.
	ErrJournalRead = errors.New("deployer: journal read failed")

	// ErrFutureChanged indicates a journaled future no longer matches its declaration.
	ErrFutureChanged = errors.New("deployer: future changed since it was executed")

	// ErrCancelled indicates the run stopped because its context was cancelled.
	ErrCancelled = errors.New("deployer: run cancelled")

	// ErrMissingSender indicates a transaction has no sender and no default is configured.
	ErrMissingSender = errors.New("deployer: no sender for transaction")

	// ErrNotYetResolved indicates the future has not been confirmed.
	ErrNotYetResolved = errors.New("deployer: future not yet resolved")
)

// MethodNotFoundError indicates the contract doesn't have the requested method.
type MethodNotFoundError struct {
	Contract string
	Method   string
}

func (e *MethodNotFoundError) Error() string {
	return fmt.Sprintf("deployer: method %q not found in contract %s", e.Method, e.Contract)
}

// ArgumentError indicates an issue with a function argument.
type ArgumentError struct {
	Method string
	Index  int
	Err    error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("deployer: argument %d for method %q: %v", e.Index, e.Method, e.Err)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}

// TypeMismatchError indicates a value's type doesn't match the expected parameter type.
type TypeMismatchError struct {
	Expected string
	Got      string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("deployer: type mismatch: expected %s, got %s", e.Expected, e.Got)
}

// DeclarationError wraps a structural problem with a named declaration.
type DeclarationError struct {
	Name string
	Err  error
}

func (e *DeclarationError) Error() string {
	return fmt.Sprintf("deployer: declaration %q: %v", e.Name, e.Err)
}

func (e *DeclarationError) Unwrap() error {
	return e.Err
}

// CycleError reports the declarations forming a dependency cycle, in order.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("deployer: cyclic dependency: %s", strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}

// RevertError carries the decoded revert reason of a failed action.
type RevertError struct {
	Reason string
	TxHash common.Hash
}

func (e *RevertError) Error() string {
	msg := "deployer: execution reverted"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.TxHash != (common.Hash{}) {
		msg += " (tx " + e.TxHash.Hex() + ")"
	}
	return msg
}

func (e *RevertError) Unwrap() error {
	return ErrRevert
}

// FutureError reports the future at which a run halted.
type FutureError struct {
	Name     string
	FutureID string
	Err      error
}

func (e *FutureError) Error() string {
	return fmt.Sprintf("deployer: future %q (%s): %v", e.Name, e.FutureID, e.Err)
}

func (e *FutureError) Unwrap() error {
	return e.Err
}

// Kind returns a short name for the error category.
func (e *FutureError) Kind() string {
	return ErrorKind(e.Err)
}

// Resumable reports whether re-running the plan picks up where this run stopped.
// Journal failures are not resumable because durable state may lag the run.
func (e *FutureError) Resumable() bool {
	return !errors.Is(e.Err, ErrJournalWriteFailure) && !errors.Is(e.Err, ErrFutureChanged)
}

// ErrorKind maps an error to its taxonomy name. Unknown errors map to "Error".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateDeclaration):
		return "DuplicateDeclaration"
	case errors.Is(err, ErrUnknownReference):
		return "UnknownReference"
	case errors.Is(err, ErrCyclicDependency):
		return "CyclicDependency"
	case errors.Is(err, ErrArgumentOverflow):
		return "ArgumentOverflow"
	case errors.Is(err, ErrJournalWriteFailure):
		return "JournalWriteFailure"
	case errors.Is(err, ErrJournalRead):
		return "JournalReadFailure"
	case errors.Is(err, ErrRevert):
		return "Revert"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ErrCancelled):
		return "Cancelled"
	case errors.Is(err, ErrSubmission), errors.Is(err, ErrMissingSender):
		return "SubmissionError"
	case errors.Is(err, ErrFutureChanged):
		return "FutureChanged"
	case errors.Is(err, ErrNotYetResolved):
		return "NotYetResolved"
	default:
		return "Error"
	}
}
