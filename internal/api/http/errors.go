package http

import (
	stderrors "errors"
	"net/http"

	"github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/internal/query/executor"
)

// statusFor maps a statement error to an HTTP status.
func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeUnknownType, errors.CodeUnknownKeyspace, errors.CodeUnknownTable, errors.CodeObjectNotFound:
		return http.StatusNotFound
	case errors.CodeDuplicateName, errors.CodeInUse, errors.CodeCyclicReference, errors.CodeWriteConflict:
		return http.StatusConflict
	case errors.CodeParseError, errors.CodeUnsupportedSyntax, errors.CodeInvalidRequest, errors.CodeInvalidSchema,
		errors.CodeFieldTypeMismatch, errors.CodeUnknownField:
		return http.StatusBadRequest
	case errors.CodeSchemaVersionSkew:
		return http.StatusUnprocessableEntity
	}
	if errors.IsRetryable(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError writes a statement error with its classification.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{
		Error:     errors.Message(err),
		RequestID: GetRequestID(r.Context()),
	}
	var se *errors.StatementError
	if stderrors.As(err, &se) {
		resp.Code = se.Code
		resp.Category = string(se.Category)
		resp.Details = se.Details
	}
	var be *executor.BatchError
	if stderrors.As(err, &be) {
		idx := be.Index
		resp.Statement = &idx
	}
	writeJSON(w, statusFor(err), resp)
}

// writeBadRequest writes a request-level error that is not a statement
// error.
func writeBadRequest(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, RequestID: GetRequestID(r.Context())})
}
