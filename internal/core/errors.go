package core

import "errors"

// Error kinds surfaced by the render pipeline. Gate errors (ErrValidation,
// ErrConsentDenied, ErrBlockedContent) stop a submission before any job
// exists; ErrConversionFailed is recorded on the job itself.
var (
	// ErrValidation indicates malformed or missing input audio or parameters.
	ErrValidation = errors.New("validation error")
	// ErrConsentDenied indicates the submission did not carry affirmative consent.
	ErrConsentDenied = errors.New("consent denied")
	// ErrDecodeFailure indicates that an audio buffer could not be decoded.
	ErrDecodeFailure = errors.New("decode failure")
	// ErrConversionFailed indicates an engine failure or timeout during processing.
	ErrConversionFailed = errors.New("conversion failed")
	// ErrBlockedContent indicates a request targeting disallowed identity cloning.
	ErrBlockedContent = errors.New("blocked content rejected")
	// ErrNotFound indicates that no job exists for the given id.
	ErrNotFound = errors.New("job not found")
	// ErrRevisionConflict indicates a compare-and-set against a stale revision.
	ErrRevisionConflict = errors.New("revision conflict")
	// ErrIllegalTransition indicates a state change outside queued -> processing -> terminal.
	ErrIllegalTransition = errors.New("illegal job transition")
	// ErrNotCompleted indicates a result request for a job without output.
	ErrNotCompleted = errors.New("job has not completed")
)

// Stable error kind names used on the wire.
const (
	KindValidation       = "validation"
	KindConsentDenied    = "consent_denied"
	KindDecodeFailure    = "decode_failure"
	KindConversionFailed = "conversion_failed"
	KindBlockedContent   = "blocked_content"
	KindNotFound         = "not_found"
	KindNotCompleted     = "not_completed"
	KindInternal         = "internal"
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrValidation, KindValidation},
	{ErrConsentDenied, KindConsentDenied},
	{ErrBlockedContent, KindBlockedContent},
	{ErrDecodeFailure, KindDecodeFailure},
	{ErrConversionFailed, KindConversionFailed},
	{ErrNotFound, KindNotFound},
	{ErrNotCompleted, KindNotCompleted},
}

// ErrorKind maps err to its wire name. Errors outside the known kinds are
// reported as KindInternal; a nil error yields "".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}

	for _, entry := range errorKinds {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}

	return KindInternal
}

// KindError returns the sentinel for a wire kind, or nil when the kind is
// unknown.
func KindError(kind string) error {
	for _, entry := range errorKinds {
		if entry.kind == kind {
			return entry.err
		}
	}

	return nil
}
