package server

import (
	"encoding/json"
	"errors"

	"reddel/internal/pipeline"
	"reddel/internal/provider"
	"reddel/internal/region"
	"reddel/internal/source"
	"reddel/internal/validate"

	"go.lsp.dev/jsonrpc2"
)

// Application error codes, one per failing pipeline step after argument
// checking.
const (
	CodeParse      jsonrpc2.Code = -32010
	CodeRegion     jsonrpc2.Code = -32011
	CodeValidation jsonrpc2.Code = -32012
	CodeBody       jsonrpc2.Code = -32013
)

// ErrorData is the data member of error responses.
type ErrorData struct {
	Kind      string           `json:"kind"`
	Operation string           `json:"operation"`
	Detail    string           `json:"detail"`
	Reason    string           `json:"reason,omitempty"`
	Position  *source.Position `json:"position,omitempty"`
	Stack     string           `json:"stack,omitempty"`
}

// CodeOf returns the JSON-RPC code a call error is reported with.
func CodeOf(err error) jsonrpc2.Code {
	if errors.Is(err, provider.ErrUnknownOperation) {
		return jsonrpc2.MethodNotFound
	}
	switch pipeline.KindOf(err) {
	case pipeline.KindArgMismatch:
		return jsonrpc2.InvalidParams
	case pipeline.KindParse:
		return CodeParse
	case pipeline.KindRegion:
		return CodeRegion
	case pipeline.KindValidation:
		return CodeValidation
	case pipeline.KindBody:
		return CodeBody
	}
	return jsonrpc2.InternalError
}

func toRPCError(method string, err error, debug bool) *jsonrpc2.Error {
	data := ErrorData{Operation: method, Detail: err.Error()}

	var perr *pipeline.Error
	if errors.As(err, &perr) {
		data.Kind = string(perr.Kind)
		data.Detail = perr.Err.Error()
		if debug {
			data.Stack = perr.Stack
		}
	} else if errors.Is(err, provider.ErrUnknownOperation) {
		data.Kind = "unknown_operation"
	} else {
		data.Kind = "internal"
	}

	var (
		parseErr  *source.ParseError
		regionErr *region.Error
		validErr  *validate.ValidationError
	)
	switch {
	case errors.As(err, &parseErr):
		pos := parseErr.Pos
		data.Position = &pos
	case errors.As(err, &regionErr):
		data.Reason = string(regionErr.Kind)
	case errors.As(err, &validErr):
		data.Reason = string(validErr.Kind)
	}

	rpcErr := &jsonrpc2.Error{Code: CodeOf(err), Message: err.Error()}
	if raw, mErr := json.Marshal(data); mErr == nil {
		msg := json.RawMessage(raw)
		rpcErr.Data = &msg
	}
	return rpcErr
}
