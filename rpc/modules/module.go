package modules

import (
	"errors"
	"net/http"

	nativecommon "cdpcore/native/common"
)

// ModuleError carries the HTTP status alongside the message so handlers do
// not have to classify engine failures themselves.
type ModuleError struct {
	HTTPStatus int
	Message    string
}

func (e *ModuleError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func moduleUnavailable(name string) *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Message: name + " module not available"}
}

// wrapError translates engine failures into HTTP statuses. Pauses surface as
// service-unavailable and concurrent entry as conflict; everything else an
// engine rejects is a caller problem.
func wrapError(err error) *ModuleError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		return &ModuleError{HTTPStatus: http.StatusServiceUnavailable, Message: err.Error()}
	case errors.Is(err, nativecommon.ErrReentrantCall):
		return &ModuleError{HTTPStatus: http.StatusConflict, Message: err.Error()}
	default:
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Message: err.Error()}
	}
}
