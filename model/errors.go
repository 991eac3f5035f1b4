package model

import "errors"

// Rejections: the submitted input was wrong and nothing changed.
var (
	ErrNotFound            = errors.New("document does not exist")
	ErrAlreadyExists       = errors.New("document already exists")
	ErrInvalidName         = errors.New("invalid document name")
	ErrTypeUnknown         = errors.New("type not found")
	ErrVersionMissing      = errors.New("version missing")
	ErrVersionInFuture     = errors.New("op at future version")
	ErrOpTooOld            = errors.New("op too old")
	ErrDuplicateSubmission = errors.New("op already submitted")
	ErrTransformFailed     = errors.New("transform failed")
	ErrApplyFailed         = errors.New("apply failed")
	ErrContentTooLarge     = errors.New("update takes doc over max doc size")
	ErrInvalidRange        = errors.New("invalid op range")
	ErrInvalidMetaOp       = errors.New("invalid meta op")
)

var (
	// ErrCorruptHistory means stored ops could not be replayed on load.
	ErrCorruptHistory = errors.New("op data invalid")
	// ErrInternalInconsistency means the history or version bookkeeping
	// did not line up. The document is left untouched.
	ErrInternalInconsistency = errors.New("internal error")
	// ErrPersistence wraps gateway failures. In-memory state is unchanged.
	ErrPersistence = errors.New("persistence failure")
	// ErrWriteInProgress is advisory: a snapshot write for the document
	// is already running.
	ErrWriteInProgress = errors.New("another snapshot write is in progress")
	ErrClosed          = errors.New("model closed")
)

// Retryable reports whether resubmitting the same input may succeed.
// Stale or duplicate ops need the caller to refresh first and are not retryable.
func Retryable(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrWriteInProgress)
}
