package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"presale-ledger/internal/presale"
	"presale-ledger/internal/storage"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

const (
	codeBadRequest = "BadRequest"
	codeNotFound   = "NotFound"
	codeConflict   = "Conflict"
	codeInternal   = "Internal"
)

// statusCodes maps ledger error codes to HTTP statuses.
// Economic and input rejections are 422, lifecycle and state conflicts 409.
var statusCodes = map[string]int{
	"PerWalletCapExceeded":        http.StatusUnprocessableEntity,
	"PhaseCapExceeded":            http.StatusUnprocessableEntity,
	"MinBuyNotMet":                http.StatusUnprocessableEntity,
	"MaxPurchaseExceeded":         http.StatusUnprocessableEntity,
	"UnsupportedAsset":            http.StatusUnprocessableEntity,
	"Overflow":                    http.StatusUnprocessableEntity,
	"OracleMissing":               http.StatusUnprocessableEntity,
	"InvalidOracleKey":            http.StatusUnprocessableEntity,
	"InvalidAttestationSignature": http.StatusUnprocessableEntity,
	"InvalidFeed":                 http.StatusUnprocessableEntity,
	"InvalidConfig":               http.StatusUnprocessableEntity,
	"InsufficientFunds":           http.StatusUnprocessableEntity,
	"AttestationReplayed":         http.StatusConflict,
	"Paused":                      http.StatusConflict,
	"PresaleNotActive":            http.StatusConflict,
	"PresaleFinalized":            http.StatusConflict,
	"FundsLocked":                 http.StatusConflict,
	"NoVesting":                   http.StatusConflict,
	"CliffNotReached":             http.StatusConflict,
	"NothingToClaim":              http.StatusConflict,
	"RefundNotEnabled":            http.StatusConflict,
	"NothingToRefund":             http.StatusConflict,
	"AlreadyClaimed":              http.StatusConflict,
	"Unauthorized":                http.StatusForbidden,
}

// classify returns the HTTP status and error code for err.
func classify(err error) (int, string) {
	if code := presale.Code(err); code != "" {
		if status, ok := statusCodes[code]; ok {
			return status, code
		}
		return http.StatusUnprocessableEntity, code
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, storage.ErrDuplicateKey):
		return http.StatusConflict, codeConflict
	case errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest, codeBadRequest
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// writeError aborts the request with the mapped status. Internal errors
// are logged and their message is not exposed.
func writeError(c *gin.Context, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		loggerFrom(c).WithError(err).Error("Request failed")
		msg = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     code,
		Message:   msg,
		RequestID: c.GetString(requestIDKey),
	})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:     codeBadRequest,
		Message:   err.Error(),
		RequestID: c.GetString(requestIDKey),
	})
}
