package constant

import "errors"

// Business error sentinels. The message is the stable error code; the full
// title/message pair is attached by commons.ValidateBusinessError when the
// error crosses the HTTP boundary.
var (
	// ErrBadRequest maps to gateway error code 0001.
	ErrBadRequest = errors.New("0001")
	// ErrInsufficientFunds maps to transaction error code 0018.
	ErrInsufficientFunds = errors.New("0018")
	// ErrUnauthorized maps to gateway error code 0042.
	ErrUnauthorized = errors.New("0042")
	// ErrForbidden maps to gateway error code 0043.
	ErrForbidden = errors.New("0043")
	// ErrTooManyRequests maps to gateway error code 0045.
	ErrTooManyRequests = errors.New("0045")
	// ErrAccountNotProvisioned maps to balance error code 0052.
	ErrAccountNotProvisioned = errors.New("0052")
	// ErrBalanceStoreUnavailable maps to balance error code 0065.
	ErrBalanceStoreUnavailable = errors.New("0065")
	// ErrBalanceVersionConflict maps to balance error code 0066.
	ErrBalanceVersionConflict = errors.New("0066")
	// ErrAuditAppendFailed maps to audit error code 0067.
	ErrAuditAppendFailed = errors.New("0067")
	// ErrAuditCompensationFailed maps to audit error code 0068.
	ErrAuditCompensationFailed = errors.New("0068")
	// ErrInternalServer maps to gateway error code 0500.
	ErrInternalServer = errors.New("0500")
)
