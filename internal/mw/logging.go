package mw

import (
	"context"
	"errors"
	"net/http"
	"time"

	"marketplace/internal/models/domainErrors"
	"marketplace/internal/tools/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor логирует неуспешные вызовы. Зарегистрированные сервисы
// сами возвращают gRPC статусы, ошибка передаётся дальше как есть.
func LoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	resp, err = handler(ctx, req)
	if err != nil {
		s := status.Convert(err)
		logger.Logger.WarnContext(ctx, "grpc call failed", "method", info.FullMethod, "code", s.Code().String(), "message", s.Message())
	}
	return resp, err
}

// grpcCode classifies a domain error; HTTPStatus maps the class to a status.
func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, domainErrors.ErrValidationFailed),
		errors.Is(err, domainErrors.ErrInvalidInput),
		errors.Is(err, domainErrors.ErrInvalidPaymentData):
		return codes.InvalidArgument
	case errors.Is(err, domainErrors.ErrDuplicateOrder),
		errors.Is(err, domainErrors.ErrPaymentAlreadyExists),
		errors.Is(err, domainErrors.ErrShipmentExists),
		errors.Is(err, domainErrors.ErrWarehouseItemExists):
		return codes.AlreadyExists
	case errors.Is(err, domainErrors.ErrOrderNotFound),
		errors.Is(err, domainErrors.ErrPaymentNotFound):
		return codes.NotFound
	case errors.Is(err, domainErrors.ErrUnauthenticated):
		return codes.Unauthenticated
	case errors.Is(err, domainErrors.ErrForbidden):
		return codes.PermissionDenied
	case errors.Is(err, domainErrors.ErrInvalidTransition),
		errors.Is(err, domainErrors.ErrOrderTerminal),
		errors.Is(err, domainErrors.ErrCardDeclined):
		return codes.FailedPrecondition
	case errors.Is(err, domainErrors.ErrStorageUnavailable),
		errors.Is(err, domainErrors.ErrLogUnavailable),
		errors.Is(err, domainErrors.ErrGatewayUnavailable):
		return codes.Unavailable
	case errors.Is(err, domainErrors.ErrGatewayTimeout):
		return codes.DeadlineExceeded
	case errors.Is(err, domainErrors.ErrInternalError),
		errors.Is(err, domainErrors.ErrCodecFailure):
		return codes.Internal
	default:
		return codes.Unknown
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// RequestLogger logs one line per HTTP request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.Logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"latency_ms", float64(time.Since(start).Microseconds())/1000.0,
		)
	})
}
