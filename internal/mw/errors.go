package mw

import (
	"encoding/json"
	"net/http"

	"marketplace/internal/models/domainErrors"

	"google.golang.org/grpc/codes"
)

type customError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var httpStatusByCode = map[codes.Code]int{
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.AlreadyExists:      http.StatusConflict,
	codes.NotFound:           http.StatusNotFound,
	codes.Unauthenticated:    http.StatusUnauthorized,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.FailedPrecondition: http.StatusUnprocessableEntity,
	codes.Unavailable:        http.StatusServiceUnavailable,
	codes.DeadlineExceeded:   http.StatusGatewayTimeout,
	codes.ResourceExhausted:  http.StatusTooManyRequests,
}

// HTTPStatus maps a domain error to the HTTP status of the same class as its
// gRPC code.
func HTTPStatus(err error) int {
	if s, ok := httpStatusByCode[grpcCode(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WriteError writes err as {"error":{"code","message"}}. Unclassified errors
// are reported as INTERNAL_ERROR without their text.
func WriteError(w http.ResponseWriter, err error) {
	code := domainErrors.Code(err)
	status := HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = domainErrors.ErrInternalError.Error()
	}
	writeError(w, status, code, message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	resp := customError{}
	resp.Error.Code = code
	resp.Error.Message = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
