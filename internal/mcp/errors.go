// Package mcp exposes retrieval over the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
)

// MCP error codes. The -320xx range is reserved for server errors.
const (
	ErrCodeIndexNotFound    = -32001
	ErrCodeOracleFailed     = -32002
	ErrCodeTimeout          = -32003
	ErrCodeDocumentNotFound = -32004
	ErrCodeDocumentTooLarge = -32005

	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is a protocol error. Data carries the structured error as
// rendered by errors.FormatJSON, when there is one.
type MCPError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var fe *frerrors.FundragError
	if errors.As(err, &fe) {
		return mapFundragError(fe)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Resource '%s' not found.", uri)}
}

func mapFundragError(fe *frerrors.FundragError) *MCPError {
	message := fe.Message
	if fe.Suggestion != "" {
		message = fmt.Sprintf("%s %s", fe.Message, fe.Suggestion)
	}
	out := &MCPError{Code: ErrCodeInternalError, Message: message}
	if data, err := frerrors.FormatJSON(fe); err == nil {
		out.Data = data
	}

	switch fe.Category {
	case frerrors.CategoryIO:
		switch fe.Code {
		case frerrors.ErrCodeDocumentNotFound:
			out.Code = ErrCodeDocumentNotFound
		case frerrors.ErrCodeCorruptIndex:
			out.Code = ErrCodeIndexNotFound
		}
	case frerrors.CategoryNetwork:
		out.Code = ErrCodeTimeout
		if fe.Code == frerrors.ErrCodeOracleUnavailable {
			out.Code = ErrCodeOracleFailed
		}
	case frerrors.CategoryValidation:
		out.Code = ErrCodeInvalidParams
		if fe.Code == frerrors.ErrCodeOracleParse {
			out.Code = ErrCodeOracleFailed
		}
	}
	return out
}
