package http

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/mysverse/worker-bank/pkg/commons"
	constant "github.com/mysverse/worker-bank/pkg/commons/constants"
)

// sentinelErrors lists every business sentinel the gateway raises, so a
// sentinel wrapped anywhere in an error chain still resolves to its envelope.
var sentinelErrors = []error{
	constant.ErrBadRequest,
	constant.ErrInsufficientFunds,
	constant.ErrUnauthorized,
	constant.ErrForbidden,
	constant.ErrTooManyRequests,
	constant.ErrAccountNotProvisioned,
	constant.ErrBalanceStoreUnavailable,
	constant.ErrBalanceVersionConflict,
	constant.ErrAuditAppendFailed,
	constant.ErrAuditCompensationFailed,
	constant.ErrInternalServer,
}

// statusByCode maps business error codes onto HTTP status codes. Codes missing
// from the map fall back to 500 so an unmapped error never leaks a 200.
var statusByCode = map[string]int{
	constant.ErrBadRequest.Error():              http.StatusBadRequest,
	constant.ErrInsufficientFunds.Error():       http.StatusUnprocessableEntity,
	constant.ErrUnauthorized.Error():            http.StatusUnauthorized,
	constant.ErrForbidden.Error():               http.StatusForbidden,
	constant.ErrTooManyRequests.Error():         http.StatusTooManyRequests,
	constant.ErrAccountNotProvisioned.Error():   http.StatusNotFound,
	constant.ErrBalanceStoreUnavailable.Error(): http.StatusServiceUnavailable,
	constant.ErrBalanceVersionConflict.Error():  http.StatusConflict,
	constant.ErrAuditAppendFailed.Error():       http.StatusInternalServerError,
	constant.ErrAuditCompensationFailed.Error(): http.StatusInternalServerError,
	constant.ErrInternalServer.Error():          http.StatusInternalServerError,
}

// StatusForCode resolves a business error code into its HTTP status.
func StatusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}

	return http.StatusInternalServerError
}

// JSONResponseError sends the failure envelope for a business Response,
// deriving the HTTP status from the business code.
func JSONResponseError(c *fiber.Ctx, err commons.Response) error {
	return JSONResponse(c, StatusForCode(err.Code), ErrorResponse{
		Success: false,
		Error:   err.Message,
		Code:    err.Code,
		Title:   err.Title,
	})
}

// WriteError translates any error into the failure envelope. An enriched
// Response anywhere in the chain keeps its fields; otherwise the chain is
// probed for a business sentinel, which is then enriched; anything else
// collapses into the generic internal error so callers never see internals.
func WriteError(c *fiber.Ctx, err error) error {
	var resp commons.Response
	if errors.As(err, &resp) {
		return JSONResponseError(c, resp)
	}

	for _, sentinel := range sentinelErrors {
		if !errors.Is(err, sentinel) {
			continue
		}

		if errors.As(commons.ValidateBusinessError(sentinel, c.Path()), &resp) {
			return JSONResponseError(c, resp)
		}
	}

	if errors.As(commons.ValidateBusinessError(constant.ErrInternalServer, c.Path()), &resp) {
		return JSONResponseError(c, resp)
	}

	return JSONResponse(c, http.StatusInternalServerError, ErrorResponse{
		Success: false,
		Error:   "internal server error",
	})
}

// BadRequestFromValidation sends the failure envelope for a request that
// failed parsing or validation, carrying the validator's message so callers
// can see which field was rejected.
func BadRequestFromValidation(c *fiber.Ctx, err error) error {
	return JSONResponse(c, http.StatusBadRequest, ErrorResponse{
		Success: false,
		Error:   err.Error(),
		Code:    constant.ErrBadRequest.Error(),
		Title:   "Bad Request",
	})
}
