// Package api implements the §6 HTTP surface: the public REST API and the internal
// node-to-node endpoints ceremony.JoinBroadcaster and vote.HTTPTrigger's peers call into.
// Grounded on the teacher's apiserver/server (makeHandler/sendErr/sendJSONResponse) and
// apiserver/utils (HandlerError), adapted from gorm-result-driven errors to this module's own
// Kind-tagged taxonomy in errors/.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	cerrors "github.com/mpcwallet/orchestrator/errors"
)

// HandlerError is an error returned from a route handler, carrying the HTTP status it should
// produce. Mirrors apiserver/utils.HandlerError's shape.
type HandlerError struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
}

func (e *HandlerError) Error() string { return e.Message }

func newHandlerError(code int, format string, args ...interface{}) *HandlerError {
	return &HandlerError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// badRequest and notFound are the two statuses request validation produces directly, before an
// error ever reaches fromError.
func badRequest(format string, args ...interface{}) *HandlerError {
	return newHandlerError(http.StatusBadRequest, format, args...)
}

func notFound(format string, args ...interface{}) *HandlerError {
	return newHandlerError(http.StatusNotFound, format, args...)
}

// fromError classifies a domain error by its errors.Kind (§7) into a HandlerError, the same
// dispatch-on-disposition idiom errors.KindOf exists for elsewhere in the tree.
func fromError(err error) *HandlerError {
	switch cerrors.KindOf(err) {
	case cerrors.KindNotFound:
		return newHandlerError(http.StatusNotFound, "%s", err)
	case cerrors.KindInProgress:
		return newHandlerError(http.StatusConflict, "%s", err)
	case cerrors.KindInvalidConfig:
		return newHandlerError(http.StatusBadRequest, "%s", err)
	case cerrors.KindTimeout:
		return newHandlerError(http.StatusGatewayTimeout, "%s", err)
	case cerrors.KindByzantine:
		return newHandlerError(http.StatusForbidden, "%s", err)
	case cerrors.KindTransient:
		return newHandlerError(http.StatusServiceUnavailable, "%s", err)
	default:
		return newHandlerError(http.StatusInternalServerError, "%s", err)
	}
}

func sendErr(w http.ResponseWriter, hErr *HandlerError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(hErr.Code)
	_ = json.NewEncoder(w).Encode(hErr)
}

func sendJSON(w http.ResponseWriter, status int, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if response == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(response)
}
