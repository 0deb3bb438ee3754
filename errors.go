package permit

import (
	"errors"
	"fmt"
)

// Error codes surfaced by the signature transfer engine. Each failing call
// carries exactly one code. Overlapping causes are deliberately collapsed:
// a tampered witness type string and a signature from the wrong key both
// surface as ErrCodeInvalidSigner, so callers cannot probe which part of
// verification failed.
const (
	ErrCodeSignatureExpired            = "signature_expired"
	ErrCodeInvalidSigner               = "invalid_signer"
	ErrCodeInvalidNonce                = "invalid_nonce"
	ErrCodeInvalidAmount               = "invalid_amount"
	ErrCodeSignedDetailsLengthMismatch = "signed_details_length_mismatch"
	ErrCodeAmountsLengthMismatch       = "amounts_length_mismatch"
	// ErrCodeRecipientLengthMismatch is reserved for deployments that accept
	// recipients as a separate list. The engine's batch entry points carry the
	// recipient inside each transfer instruction, so it is never returned today.
	ErrCodeRecipientLengthMismatch = "recipient_length_mismatch"
	ErrCodeTransferFailed          = "transfer_failed"
	ErrCodeInsufficientBalance     = "insufficient_balance"
)

// Error is a transfer-engine failure with a stable machine-readable code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a coded engine error.
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// ErrorCode extracts the engine error code from err, or "" if err does not
// wrap an engine error.
func ErrorCode(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsCode reports whether err wraps an engine error with the given code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}
