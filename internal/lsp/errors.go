package lsp

import (
	"errors"
	"fmt"
)

// Standard errors returned by the worker connection.
var (
	// ErrNotStarted indicates the server has not been started.
	ErrNotStarted = errors.New("worker not started")

	// ErrAlreadyStarted indicates the server is already running.
	ErrAlreadyStarted = errors.New("worker already started")

	// ErrShutdown indicates the connection was closed locally.
	ErrShutdown = errors.New("worker connection shut down")

	// ErrServerCrashed indicates the worker process terminated unexpectedly.
	ErrServerCrashed = errors.New("worker crashed")

	// ErrProtocol indicates the worker sent something that is not a valid
	// framed JSON-RPC message.
	ErrProtocol = errors.New("protocol error")
)

// RPCError represents a JSON-RPC error from the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	// JSON-RPC standard errors
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// LSP-specific errors
	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
	CodeServerCancelled      = -32802
	CodeRequestFailed        = -32803
)

// TransportError reports that the connection to the worker failed after
// launch: the process exited, the stream closed, or a frame was malformed.
type TransportError struct {
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("worker transport: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// StartError reports that the worker could not be spawned or did not
// complete the initialize handshake.
type StartError struct {
	Command string
	Err     error
}

// Error implements the error interface.
func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Command, e.Err)
}

// Unwrap returns the underlying error.
func (e *StartError) Unwrap() error {
	return e.Err
}
