// Package rpc serves a provider's JSON-RPC method set over HTTP: single and
// batch requests, CORS for browser tooling, and graceful shutdown.
package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/NomicFoundation/edr-sub001/provider"
)

// JSON-RPC 2.0 error codes.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
	ErrCodeExecution      = -32000
)

// Handler dispatches one JSON-RPC method call. *provider.Provider implements
// it.
type Handler interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, error)
}

// Request is one JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Response is one JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// RPCError is the error member of a response. Data carries revert return
// data when present.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

func errorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{JSONRPC: "2.0", Error: &RPCError{Code: code, Message: message}, ID: id}
}

// toRPCError maps dispatch errors onto wire error codes.
func toRPCError(err error) *RPCError {
	var notFound *provider.ErrMethodNotFound
	if errors.As(err, &notFound) {
		return &RPCError{Code: ErrCodeMethodNotFound, Message: err.Error()}
	}
	var revert *provider.RevertError
	if errors.As(err, &revert) {
		return &RPCError{
			Code:    ErrCodeExecution,
			Message: revert.Error(),
			Data:    "0x" + hex.EncodeToString(revert.Data),
		}
	}
	return &RPCError{Code: ErrCodeExecution, Message: err.Error()}
}
