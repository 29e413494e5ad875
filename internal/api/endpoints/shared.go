// Package endpoints holds the HTTP handlers for the request surface
// (C8): one handler type per resource family, following the shape of
// the teacher's internal/api/endpoints/conversation_endpoints.go.
package endpoints

import (
	"net/http"

	"github.com/relaymesh/chatcore/internal/api"
	"github.com/relaymesh/chatcore/internal/api/middleware"
	"github.com/relaymesh/chatcore/internal/identity"
	"github.com/relaymesh/chatcore/internal/messaging"
)

type HTTPError = api.HTTPError

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	return api.WriteSuccess(w, status, v)
}

func WriteJSONWithMeta(w http.ResponseWriter, status int, data, meta any) error {
	return api.WriteSuccessWithMeta(w, status, data, meta)
}

func claimsFromRequest(r *http.Request) (identity.Claims, error) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return identity.Claims{}, &HTTPError{StatusCode: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "missing or invalid bearer token"}
	}
	return claims, nil
}

// serviceError converts a messaging/permission service Error into the
// HTTPError the transport layer wants, the same boundary-conversion
// role the teacher's conversation_endpoints.go serviceError plays.
func serviceError(err error) error {
	if err == nil {
		return nil
	}

	code := "INTERNAL_ERROR"
	message := err.Error()
	if svcErr, ok := err.(interface{ ErrCode() string }); ok {
		code = svcErr.ErrCode()
	}

	status := http.StatusInternalServerError
	switch code {
	case string(messaging.ErrorCodeValidation):
		status = http.StatusBadRequest
	case "UNAUTHORIZED":
		status = http.StatusUnauthorized
	case string(messaging.ErrorCodeForbidden):
		status = http.StatusForbidden
	case string(messaging.ErrorCodeContactRequestNeed):
		status = http.StatusForbidden
	case string(messaging.ErrorCodeNotFound):
		status = http.StatusNotFound
	case string(messaging.ErrorCodeConflict):
		status = http.StatusConflict
	case string(messaging.ErrorCodeRateLimited):
		status = http.StatusTooManyRequests
	}

	return &HTTPError{StatusCode: status, Code: code, Message: message, ErrorLog: err}
}
