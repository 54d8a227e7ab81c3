package domainErrors

import "errors"

var (
	ErrValidationFailed  = errors.New("validation failed") //общее
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicateOrder    = errors.New("order with this id already exists")
	ErrForbidden         = errors.New("caller is not a party of the order")
	ErrUnauthenticated   = errors.New("missing or invalid credentials")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOrderTerminal     = errors.New("order is already in a terminal status")
	ErrInternalError     = errors.New("internal error") //общее

	// платёж
	ErrCardDeclined         = errors.New("card declined")
	ErrInvalidPaymentData   = errors.New("invalid payment data")
	ErrGatewayTimeout       = errors.New("payment gateway timeout")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrPaymentAlreadyExists = errors.New("successful payment already exists for order")
	ErrPaymentNotFound      = errors.New("payment not found")

	// saga
	ErrMaxRetryExceeded     = errors.New("max retry count exceeded")
	ErrUnknownStep          = errors.New("unknown processing step")
	ErrShipmentRegistration = errors.New("shipment registration failed")
	ErrShipmentExists       = errors.New("shipment already registered")
	ErrWarehouseItemExists  = errors.New("warehouse item already exists")

	// инфраструктура
	ErrStorageUnavailable = errors.New("storage temporarily unavailable")
	ErrCodecFailure       = errors.New("sensitive data codec failure")
	ErrLogUnavailable     = errors.New("saga log unavailable")
)

// Привязка ошибок к кодам
var ErrorCodes = map[error]string{
	ErrValidationFailed:  "VALIDATION_FAILED",
	ErrOrderNotFound:     "ORDER_NOT_FOUND",
	ErrInvalidInput:      "INVALID_INPUT",
	ErrDuplicateOrder:    "DUPLICATE_ORDER",
	ErrForbidden:         "FORBIDDEN",
	ErrUnauthenticated:   "UNAUTHENTICATED",
	ErrInvalidTransition: "INVALID_TRANSITION",
	ErrOrderTerminal:     "ORDER_TERMINAL",
	ErrInternalError:     "INTERNAL_ERROR",

	ErrCardDeclined:         "CARD_DECLINED",
	ErrInvalidPaymentData:   "INVALID_PAYMENT_DATA",
	ErrGatewayTimeout:       "GATEWAY_TIMEOUT",
	ErrGatewayUnavailable:   "GATEWAY_UNAVAILABLE",
	ErrPaymentAlreadyExists: "PAYMENT_ALREADY_EXISTS",
	ErrPaymentNotFound:      "PAYMENT_NOT_FOUND",

	ErrMaxRetryExceeded:     "MAX_RETRY_EXCEEDED",
	ErrUnknownStep:          "UNKNOWN_STEP",
	ErrShipmentRegistration: "SHIPMENT_REGISTRATION_FAILED",
	ErrShipmentExists:       "SHIPMENT_EXISTS",
	ErrWarehouseItemExists:  "WAREHOUSE_ITEM_EXISTS",

	ErrStorageUnavailable: "STORAGE_UNAVAILABLE",
	ErrCodecFailure:       "CODEC_FAILURE",
	ErrLogUnavailable:     "LOG_UNAVAILABLE",
}

var transientErrors = []error{
	ErrGatewayTimeout,
	ErrGatewayUnavailable,
	ErrStorageUnavailable,
	ErrShipmentRegistration,
	ErrLogUnavailable,
}

var permanentErrors = []error{
	ErrCardDeclined,
	ErrInvalidPaymentData,
	ErrValidationFailed,
	ErrCodecFailure,
	ErrMaxRetryExceeded,
	ErrUnknownStep,
}

// IsTransient reports whether a retry may succeed later.
func IsTransient(err error) bool {
	for _, target := range transientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsPermanent reports whether retrying cannot change the outcome.
func IsPermanent(err error) bool {
	for _, target := range permanentErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Порядок важен: если ошибка оборачивает несколько сентинелов, побеждает
// более ранний.
var codePriority = []error{
	ErrMaxRetryExceeded,
	ErrUnknownStep,

	ErrCardDeclined,
	ErrInvalidPaymentData,
	ErrPaymentAlreadyExists,
	ErrPaymentNotFound,
	ErrGatewayTimeout,
	ErrGatewayUnavailable,

	ErrShipmentRegistration,
	ErrShipmentExists,
	ErrWarehouseItemExists,

	ErrDuplicateOrder,
	ErrOrderNotFound,
	ErrOrderTerminal,
	ErrInvalidTransition,
	ErrForbidden,
	ErrUnauthenticated,
	ErrValidationFailed,
	ErrInvalidInput,

	ErrCodecFailure,
	ErrStorageUnavailable,
	ErrLogUnavailable,
	ErrInternalError,
}

// Code returns the code of the highest-priority sentinel err wraps, or
// INTERNAL_ERROR.
func Code(err error) string {
	if err == nil {
		return ""
	}
	if code, ok := ErrorCodes[err]; ok {
		return code
	}
	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return ErrorCodes[sentinel]
		}
	}
	return ErrorCodes[ErrInternalError]
}
