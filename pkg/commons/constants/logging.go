package constant

const (
	// ObfuscatedValue stands in for sensitive field values in logs and spans.
	ObfuscatedValue = "********"
)
