package dpop

import "vaultline/internal/domain"

// Error codes, in the order the checks run.
const (
	CodeInvalidFormat      = "invalid_token_format"
	CodeInvalidType        = "invalid_token_type"
	CodeMissingFields      = "missing_required_fields"
	CodeMethodMismatch     = "http_method_mismatch"
	CodeURIMismatch        = "http_uri_mismatch"
	CodeExpired            = "token_expired"
	CodeInvalidSignature   = "invalid_signature"
	CodeKeyBindingMismatch = "token_key_binding_mismatch"
)

var messages = map[string]string{
	CodeInvalidFormat:      "malformed DPoP proof",
	CodeInvalidType:        "unsupported DPoP proof type or algorithm",
	CodeMissingFields:      "DPoP proof is missing required fields",
	CodeMethodMismatch:     "DPoP proof was issued for another HTTP method",
	CodeURIMismatch:        "DPoP proof was issued for another URL",
	CodeExpired:            "token expired",
	CodeInvalidSignature:   "invalid signature",
	CodeKeyBindingMismatch: "access token is not bound to the proof key",
}

func fail(code string, cause error) error {
	if code == CodeExpired {
		return domain.NewExpiredError(code, messages[code], cause)
	}
	return domain.NewAuthError(code, messages[code], cause)
}
