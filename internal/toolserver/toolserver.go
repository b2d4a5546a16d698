// Package toolserver exposes the orchestrator's four call operations as
// named tool handlers, plus a minimal newline-delimited JSON-RPC 2.0 stdio
// loop that drives them for standalone use. A host embedding this module
// in a richer agent runtime is expected to call the ToolHandlers directly
// and bypass Serve.
package toolserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/rs/zerolog"

	"github.com/agentplexus/callorchestrator/internal/callerror"
)

// ToolHandler is one named tool operation a JSON-RPC dispatcher can drive.
type ToolHandler interface {
	Name() string
	Call(ctx context.Context, params json.RawMessage) (string, error)
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  *toolResult     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type toolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"isError"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const methodNotFoundCode = -32601

// Serve reads newline-delimited JSON-RPC 2.0 requests from r, dispatches
// each to the matching ToolHandler by method name, and writes one
// newline-delimited JSON-RPC response per request to w. It returns when r
// is exhausted; ctx is checked after each line is read, so a cancelled ctx
// ends Serve only once the next line arrives.
func Serve(ctx context.Context, handlers []ToolHandler, r io.Reader, w io.Writer, log zerolog.Logger) error {
	byName := make(map[string]ToolHandler, len(handlers))
	for _, h := range handlers {
		byName[h.Name()] = h
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			log.Warn().Err(err).Msg("malformed json-rpc request")
			continue
		}

		resp := response{JSONRPC: "2.0", ID: req.ID}
		handler, ok := byName[req.Method]
		if !ok {
			resp.Error = &rpcError{Code: methodNotFoundCode, Message: "method not found: " + req.Method}
		} else {
			text, err := handler.Call(ctx, req.Params)
			if err != nil {
				resp.Result = &toolResult{Content: callerror.Format(err), IsError: true}
			} else {
				resp.Result = &toolResult{Content: text, IsError: false}
			}
		}

		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}
