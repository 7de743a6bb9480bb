// Package mcp implements the Model Context Protocol server for
// ConstructionRAG. It exposes the retrieval core, wiki pages and run
// history to AI clients over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
)

// Custom MCP error codes in the implementation-defined range.
const (
	// ErrCodeNotFound indicates a run, page or document does not exist.
	ErrCodeNotFound = -32001

	// ErrCodeRunConflict indicates the run is already being processed.
	ErrCodeRunConflict = -32002

	// ErrCodeUpstreamUnavailable indicates an AI or storage service
	// call failed.
	ErrCodeUpstreamUnavailable = -32003

	// ErrCodeTimeout indicates the request timed out or was cancelled.
	ErrCodeTimeout = -32004
)

// Standard JSON-RPC error codes.
const (
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors. Pipeline errors map
// by kind; anything unrecognized becomes an internal error so client
// conversations never see raw Go error chains.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var cerr *conerrors.Error
	if errors.As(err, &cerr) {
		message := cerr.Message
		if cerr.Suggestion != "" {
			message = fmt.Sprintf("%s %s", cerr.Message, cerr.Suggestion)
		}
		switch cerr.Kind {
		case conerrors.KindNotFound:
			return &MCPError{Code: ErrCodeNotFound, Message: message}
		case conerrors.KindInvalidInput, conerrors.KindConfigError:
			return &MCPError{Code: ErrCodeInvalidParams, Message: message}
		case conerrors.KindConflict:
			return &MCPError{Code: ErrCodeRunConflict, Message: message}
		case conerrors.KindUnavailable, conerrors.KindRateLimited, conerrors.KindMalformedResponse:
			return &MCPError{Code: ErrCodeUpstreamUnavailable, Message: message}
		case conerrors.KindTimeout, conerrors.KindCancelled:
			return &MCPError{Code: ErrCodeTimeout, Message: message}
		default:
			return &MCPError{Code: ErrCodeInternalError, Message: message}
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was cancelled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a
// custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewNotFoundError creates an error for a missing run or page.
func NewNotFoundError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeNotFound, Message: msg}
}
