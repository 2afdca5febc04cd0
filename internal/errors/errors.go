// Package errors provides structured error types for the user type subsystem.
// All errors include a category, code, message, and retryable flag so the
// query layer can surface them to clients unchanged.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategorySchema     ErrorCategory = "SCHEMA"
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Schema codes
	CodeUnknownType     = "UNKNOWN_TYPE"
	CodeDuplicateName   = "DUPLICATE_NAME"
	CodeCyclicReference = "CYCLIC_REFERENCE"
	CodeInUse           = "IN_USE"
	CodeUnknownKeyspace = "UNKNOWN_KEYSPACE"
	CodeUnknownTable    = "UNKNOWN_TABLE"
	CodeInvalidSchema   = "INVALID_SCHEMA"
	CodeWriteConflict   = "WRITE_CONFLICT"

	// Validation codes
	CodeFieldTypeMismatch = "FIELD_TYPE_MISMATCH"
	CodeUnknownField      = "UNKNOWN_FIELD"
	CodeSchemaVersionSkew = "SCHEMA_VERSION_SKEW"

	// Storage codes
	CodeWriteFailed    = "WRITE_FAILED"
	CodeReadFailed     = "READ_FAILED"
	CodeMalformedValue = "MALFORMED_VALUE"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Query codes
	CodeParseError        = "PARSE_ERROR"
	CodeUnsupportedSyntax = "UNSUPPORTED_SYNTAX"
	CodeInvalidRequest    = "INVALID_REQUEST"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// StatementError is the structured error returned for a failed statement.
type StatementError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *StatementError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *StatementError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *StatementError) Is(target error) bool {
	var t *StatementError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new StatementError.
func New(category ErrorCategory, code, message string) *StatementError {
	return &StatementError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new StatementError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *StatementError {
	return &StatementError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *StatementError) WithDetails(details map[string]interface{}) *StatementError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *StatementError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a StatementError.
func GetCategory(err error) ErrorCategory {
	var se *StatementError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a StatementError.
func GetCode(err error) string {
	var se *StatementError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// Message returns the bare message of a StatementError, or err.Error()
// for any other error.
func Message(err error) string {
	var se *StatementError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}

// isRetryable determines if an error code is retryable. Schema conflicts
// never are: the client has to resolve them.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeWriteFailed:
		return true
	case category == ErrCategoryStorage && code == CodeReadFailed:
		return true
	case category == ErrCategorySchema && code == CodeWriteConflict:
		return true
	default:
		return false
	}
}

// Sentinel values for errors.Is checks.
var (
	ErrUnknownType       = New(ErrCategorySchema, CodeUnknownType, "")
	ErrDuplicateName     = New(ErrCategorySchema, CodeDuplicateName, "")
	ErrCyclicReference   = New(ErrCategorySchema, CodeCyclicReference, "")
	ErrInUse             = New(ErrCategorySchema, CodeInUse, "")
	ErrUnknownKeyspace   = New(ErrCategorySchema, CodeUnknownKeyspace, "")
	ErrUnknownTable      = New(ErrCategorySchema, CodeUnknownTable, "")
	ErrFieldTypeMismatch = New(ErrCategoryValidation, CodeFieldTypeMismatch, "")
	ErrUnknownField      = New(ErrCategoryValidation, CodeUnknownField, "")
	ErrSchemaVersionSkew = New(ErrCategoryValidation, CodeSchemaVersionSkew, "")
	ErrMalformedValue    = New(ErrCategoryStorage, CodeMalformedValue, "")
)

// Convenience constructors for common errors.

func NewUnknownTypeError(name string) *StatementError {
	return New(ErrCategorySchema, CodeUnknownType, fmt.Sprintf("Unknown type %s", name)).
		WithDetails(map[string]interface{}{"type": name})
}

// NewDuplicateNameError reports a name collision; kind is "type", "field",
// "table", "column" or "keyspace".
func NewDuplicateNameError(kind, name string) *StatementError {
	return New(ErrCategorySchema, CodeDuplicateName, fmt.Sprintf("A %s named %s already exists", kind, name)).
		WithDetails(map[string]interface{}{"kind": kind, "name": name})
}

func NewCyclicReferenceError(typeName, via string) *StatementError {
	return New(ErrCategorySchema, CodeCyclicReference,
		fmt.Sprintf("Cannot reference user type %s from %s: it would create a cycle", typeName, via)).
		WithDetails(map[string]interface{}{"type": typeName, "via": via})
}

// NewInUseError reports a drop blocked by a dependent. dependentKind is
// "user type" or "table"; dependentName is the type name or keyspace.table.
func NewInUseError(typeName, dependentKind, dependentName string) *StatementError {
	return New(ErrCategorySchema, CodeInUse,
		fmt.Sprintf("Cannot drop user type %s as it is still used by %s %s", typeName, dependentKind, dependentName)).
		WithDetails(map[string]interface{}{"type": typeName, "dependent_kind": dependentKind, "dependent": dependentName})
}

func NewUnknownKeyspaceError(name string) *StatementError {
	return New(ErrCategorySchema, CodeUnknownKeyspace, fmt.Sprintf("Keyspace %s does not exist", name))
}

func NewUnknownTableError(name string) *StatementError {
	return New(ErrCategorySchema, CodeUnknownTable, fmt.Sprintf("unconfigured table %s", name))
}

func NewInvalidSchemaError(message string) *StatementError {
	return New(ErrCategorySchema, CodeInvalidSchema, message)
}

func NewFieldTypeMismatchError(field, expected string) *StatementError {
	return New(ErrCategoryValidation, CodeFieldTypeMismatch, fmt.Sprintf("field %s is not of type %s", field, expected)).
		WithDetails(map[string]interface{}{"field": field, "expected": expected})
}

func NewColumnTypeMismatchError(column, expected string) *StatementError {
	return New(ErrCategoryValidation, CodeFieldTypeMismatch, fmt.Sprintf("column %s is not of type %s", column, expected)).
		WithDetails(map[string]interface{}{"column": column, "expected": expected})
}

func NewUnknownFieldError(field, typeName string) *StatementError {
	return New(ErrCategoryValidation, CodeUnknownField, fmt.Sprintf("Unknown field %s in value of user type %s", field, typeName)).
		WithDetails(map[string]interface{}{"field": field, "type": typeName})
}

func NewSchemaVersionSkewError(typeName string, encoded, known int) *StatementError {
	return New(ErrCategoryValidation, CodeSchemaVersionSkew,
		fmt.Sprintf("value of user type %s has %d fields but the schema knows %d", typeName, encoded, known)).
		WithDetails(map[string]interface{}{"type": typeName, "encoded_fields": encoded, "known_fields": known})
}

func NewMalformedValueError(message string) *StatementError {
	return New(ErrCategoryStorage, CodeMalformedValue, message)
}

func NewStorageError(code, message string, cause error) *StatementError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewQueryError(code, message string) *StatementError {
	return New(ErrCategoryQuery, code, message)
}

func NewInternalError(message string, cause error) *StatementError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
