package commons

import (
	constant "github.com/mysverse/worker-bank/pkg/commons/constants"
)

// Response is a business error carrying a stable code, a short title and a
// caller-facing message. It crosses the HTTP boundary as the failure payload.
type Response struct {
	EntityType string `json:"entityType,omitempty"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"err,omitempty"`
}

func (e Response) Error() string {
	return e.Message
}

// Unwrap exposes the sentinel so errors.Is matches the constant the Response
// was built from.
func (e Response) Unwrap() error {
	return e.Err
}

// ValidateBusinessError maps a sentinel business error onto its full
// Response. Unknown errors pass through unchanged.
func ValidateBusinessError(err error, entityType string, _ ...any) error {
	errorMap := map[error]error{
		constant.ErrBadRequest: Response{
			EntityType: entityType,
			Code:       constant.ErrBadRequest.Error(),
			Err:        constant.ErrBadRequest,
			Title:      "Bad Request",
			Message:    "The request body is malformed or contains invalid fields. Please correct the request and try again.",
		},
		constant.ErrInsufficientFunds: Response{
			EntityType: entityType,
			Code:       constant.ErrInsufficientFunds.Error(),
			Err:        constant.ErrInsufficientFunds,
			Title:      "Insufficient Funds",
			Message:    "The transaction could not be completed due to insufficient funds in the account.",
		},
		constant.ErrUnauthorized: Response{
			EntityType: entityType,
			Code:       constant.ErrUnauthorized.Error(),
			Err:        constant.ErrUnauthorized,
			Title:      "Unauthorized",
			Message:    "No API credential was provided. Include your API key and try again.",
		},
		constant.ErrForbidden: Response{
			EntityType: entityType,
			Code:       constant.ErrForbidden.Error(),
			Err:        constant.ErrForbidden,
			Title:      "Forbidden",
			Message:    "The provided API credential is not valid for this operation.",
		},
		constant.ErrTooManyRequests: Response{
			EntityType: entityType,
			Code:       constant.ErrTooManyRequests.Error(),
			Err:        constant.ErrTooManyRequests,
			Title:      "Too Many Requests",
			Message:    "The request rate limit was exceeded. Please slow down and try again shortly.",
		},
		constant.ErrAccountNotProvisioned: Response{
			EntityType: entityType,
			Code:       constant.ErrAccountNotProvisioned.Error(),
			Err:        constant.ErrAccountNotProvisioned,
			Title:      "Account Not Provisioned",
			Message:    "No balance history exists for this account. The account must be provisioned before transacting.",
		},
		constant.ErrBalanceStoreUnavailable: Response{
			EntityType: entityType,
			Code:       constant.ErrBalanceStoreUnavailable.Error(),
			Err:        constant.ErrBalanceStoreUnavailable,
			Title:      "Balance Store Unavailable",
			Message:    "The balance store did not answer in time. The transaction was not committed; please try again.",
		},
		constant.ErrBalanceVersionConflict: Response{
			EntityType: entityType,
			Code:       constant.ErrBalanceVersionConflict.Error(),
			Err:        constant.ErrBalanceVersionConflict,
			Title:      "Balance Version Conflict",
			Message:    "The balance changed while this transaction was in flight. No changes were made; please resubmit.",
		},
		constant.ErrAuditAppendFailed: Response{
			EntityType: entityType,
			Code:       constant.ErrAuditAppendFailed.Error(),
			Err:        constant.ErrAuditAppendFailed,
			Title:      "Audit Append Failed",
			Message:    "The transaction could not be recorded in the audit log and was not attempted.",
		},
		constant.ErrAuditCompensationFailed: Response{
			EntityType: entityType,
			Code:       constant.ErrAuditCompensationFailed.Error(),
			Err:        constant.ErrAuditCompensationFailed,
			Title:      "Audit Compensation Failed",
			Message:    "A failed transaction could not be removed from the audit log. Manual reconciliation is required.",
		},
		constant.ErrInternalServer: Response{
			EntityType: entityType,
			Code:       constant.ErrInternalServer.Error(),
			Err:        constant.ErrInternalServer,
			Title:      "Internal Server Error",
			Message:    "The server encountered an unexpected error. Please try again later.",
		},
	}

	if mappedError, found := errorMap[err]; found {
		return mappedError
	}

	return err
}
