package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/voxgate/pkg/dispatch"
	"github.com/kadirpekel/voxgate/pkg/toolerr"
)

// Voice platform message types that carry no tool call.
var acknowledgedMessages = map[string]bool{
	"end-of-call-report":  true,
	"conversation-update": true,
	"status-update":       true,
}

// toolCall is one invocation extracted from a webhook payload.
type toolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
	// Err is set when the arguments could not be decoded.
	Err error
}

type webhookResult struct {
	ToolCallID string       `json:"toolCallId,omitempty"`
	Result     string       `json:"result,omitempty"`
	Error      string       `json:"error,omitempty"`
	ErrorKind  toolerr.Kind `json:"error_kind,omitempty"`
}

// handleWebhook accepts tool calls from the voice platform. Calls are read
// from message.toolCallList, message.toolCalls, a root toolCall,
// message.functionCall or a root function, and dispatched concurrently.
// The platform always receives 200; failures are reported per call.
func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	message, _ := payload["message"].(map[string]any)
	msgType, _ := message["type"].(string)
	if acknowledgedMessages[msgType] {
		writeJSON(w, http.StatusOK, map[string]any{"status": "acknowledged", "type": msgType})
		return
	}

	calls := parseToolCalls(payload, message)
	if len(calls) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored", "type": msgType})
		return
	}

	tenantID := chi.URLParam(r, "tenant")
	results := make([]webhookResult, len(calls))

	var g errgroup.Group
	g.SetLimit(s.webhookWorkers)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = s.runToolCall(r.Context(), tenantID, call)
			return nil
		})
	}
	_ = g.Wait()

	withIDs := false
	for _, c := range calls {
		if c.ID != "" {
			withIDs = true
			break
		}
	}
	if !withIDs && len(results) == 1 {
		writeJSON(w, http.StatusOK, results[0])
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *HTTPServer) runToolCall(ctx context.Context, tenantID string, call toolCall) webhookResult {
	out := webhookResult{ToolCallID: call.ID}
	if call.Err != nil {
		out.Error = call.Err.Error()
		out.ErrorKind = toolerr.KindOf(call.Err)
		return out
	}

	res := s.dispatcher.Dispatch(ctx, tenantID, call.Name, call.Arguments)
	if res.Status == dispatch.StatusError {
		out.Error = res.Error
		out.ErrorKind = res.ErrorKind
		return out
	}
	out.Result = res.Text
	return out
}

func parseToolCalls(payload, message map[string]any) []toolCall {
	switch {
	case message["toolCallList"] != nil:
		return fromCallList(message["toolCallList"])
	case message["toolCalls"] != nil:
		return fromCallList(message["toolCalls"])
	case payload["toolCall"] != nil:
		return fromCallList([]any{payload["toolCall"]})
	case message["functionCall"] != nil:
		fn, _ := message["functionCall"].(map[string]any)
		args := fn["parameters"]
		if args == nil {
			args = fn["arguments"]
		}
		return []toolCall{newToolCall("", fn["name"], args)}
	case payload["function"] != nil:
		fn, _ := payload["function"].(map[string]any)
		return []toolCall{newToolCall("", fn["name"], fn["arguments"])}
	}
	return nil
}

func fromCallList(v any) []toolCall {
	items, _ := v.([]any)
	calls := make([]toolCall, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := entry["id"].(string)
		fn, _ := entry["function"].(map[string]any)
		if fn == nil {
			// Some payloads put name and arguments on the call itself.
			fn = entry
		}
		calls = append(calls, newToolCall(id, fn["name"], fn["arguments"]))
	}
	return calls
}

func newToolCall(id string, name, rawArgs any) toolCall {
	call := toolCall{ID: id}
	call.Name, _ = name.(string)
	if call.Name == "" {
		call.Err = toolerr.Validation("", "tool call has no function name")
		return call
	}

	switch args := rawArgs.(type) {
	case nil:
		call.Arguments = map[string]any{}
	case map[string]any:
		call.Arguments = args
	case string:
		call.Arguments = map[string]any{}
		if args == "" {
			break
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(args)))
		dec.UseNumber()
		if err := dec.Decode(&call.Arguments); err != nil {
			call.Err = toolerr.Validation(call.Name, "arguments are not a JSON object: %v", err)
		}
	default:
		call.Err = toolerr.Validation(call.Name, "arguments must be an object or a JSON string")
	}
	return call
}
