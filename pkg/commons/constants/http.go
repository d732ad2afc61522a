package constant

const (
	// HeaderID is the request identifier header key.
	HeaderID = "X-Request-Id"
	// HeaderAPIKey is the gateway client credential header key.
	HeaderAPIKey = "x-api-key"
	// HeaderUserAgent is the HTTP User-Agent header key.
	HeaderUserAgent = "User-Agent"
	// HeaderRealIP is the de-facto upstream real client IP header key.
	HeaderRealIP = "X-Real-Ip"
	// HeaderForwardedFor is the X-Forwarded-For header key.
	HeaderForwardedFor = "X-Forwarded-For"
	// HeaderIfMatch carries the version precondition on conditional writes.
	HeaderIfMatch = "If-Match"
	// Authorization is the HTTP Authorization header key.
	Authorization = "Authorization"
)

const (
	// DefaultBankName partitions ledger entries when a request names no bank.
	DefaultBankName = "central"
)
