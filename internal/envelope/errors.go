package envelope

import (
	"errors"
	"fmt"
)

// DecryptCode categorizes decryption failures.
type DecryptCode string

const (
	// CodeWrongKey indicates the referenced key is unknown or no
	// longer decryptable (rotation grace window expired).
	CodeWrongKey DecryptCode = "WRONG_KEY"

	// CodeMalformedEnvelope indicates the envelope itself is broken:
	// bad base64, missing fields, unsupported version.
	CodeMalformedEnvelope DecryptCode = "MALFORMED_ENVELOPE"

	// CodeUnsupportedAlgorithm indicates an algorithm outside the
	// closed set.
	CodeUnsupportedAlgorithm DecryptCode = "UNSUPPORTED_ALGORITHM"

	// CodeTamperedCiphertext indicates authentication-tag mismatch.
	// Always fatal; the plaintext is never surfaced.
	CodeTamperedCiphertext DecryptCode = "TAMPERED_CIPHERTEXT"
)

// DecryptionError reports why an envelope could not be opened.
type DecryptionError struct {
	Code    DecryptCode
	Message string
}

// Error implements the error interface.
func (e *DecryptionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsDecryptionError reports whether err is (or wraps) a DecryptionError.
func IsDecryptionError(err error) bool {
	var de *DecryptionError
	return errors.As(err, &de)
}

// DecryptCodeOf extracts the DecryptCode from err, or "" if err is not
// a DecryptionError.
func DecryptCodeOf(err error) DecryptCode {
	var de *DecryptionError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
