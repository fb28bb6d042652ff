package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/kadirpekel/voxgate/pkg/config/provider"
	"github.com/kadirpekel/voxgate/pkg/dispatch"
	"github.com/kadirpekel/voxgate/pkg/job"
	"github.com/kadirpekel/voxgate/pkg/registry"
	"github.com/kadirpekel/voxgate/pkg/toolerr"
)

const maxRequestBytes = 1 << 20

type errorBody struct {
	Error     string       `json:"error"`
	ErrorKind toolerr.Kind `json:"error_kind,omitempty"`
}

// requestError carries an explicit status for request-level failures.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string {
	return e.msg
}

func errBadRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func errNotFound(format string, args ...any) error {
	return &requestError{status: http.StatusNotFound, msg: fmt.Sprintf(format, args...)}
}

func errUnprocessable(err error) error {
	return &requestError{status: http.StatusUnprocessableEntity, msg: err.Error()}
}

// statusFor maps an error onto an HTTP status.
func statusFor(err error) int {
	var re *requestError
	switch {
	case errors.As(err, &re):
		return re.status
	case errors.Is(err, dispatch.ErrUnknownTool),
		errors.Is(err, dispatch.ErrUnknownTenant),
		errors.Is(err, job.ErrNotFound),
		errors.Is(err, registry.ErrServiceNotFound),
		errors.Is(err, provider.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, job.ErrActive),
		errors.Is(err, job.ErrTerminal),
		errors.Is(err, job.ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrDeclaredService):
		return http.StatusConflict
	}

	switch toolerr.KindOf(err) {
	case toolerr.KindValidation:
		return http.StatusBadRequest
	case toolerr.KindConfiguration:
		return http.StatusUnprocessableEntity
	case toolerr.KindNetwork:
		return http.StatusGatewayTimeout
	case toolerr.KindUpstream, toolerr.KindExtraction:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error(), ErrorKind: toolerr.KindOf(err)})
}

// decodeJSON reads a JSON body into v, keeping numbers exact. An empty body
// leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errBadRequest("invalid JSON body: %v", err)
	}
	return nil
}

// intQuery parses a non-negative integer query parameter.
func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errBadRequest("%s must be a non-negative integer", name)
	}
	return n, nil
}
