package domain

import "errors"

// Error kinds surfaced by the pipeline. Callers match them with errors.Is.
var (
	// ErrEmptyDocument indicates the document text is empty after trimming.
	ErrEmptyDocument = errors.New("empty document")

	// ErrInvalidChunkConfig indicates a chunk size/overlap pair that cannot
	// make progress.
	ErrInvalidChunkConfig = errors.New("invalid chunk config")

	// ErrModelMismatch indicates a vector produced by a different model or
	// with a different dimension than the index holds.
	ErrModelMismatch = errors.New("embedding model mismatch")

	// ErrNoRelevantContent indicates a search returned nothing for the owner.
	ErrNoRelevantContent = errors.New("no relevant content")

	// ErrIndexUnavailable indicates the vector index cannot serve requests.
	// It is the only transient kind.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrGenerationFailed indicates the generation backend failed or timed out.
	ErrGenerationFailed = errors.New("generation failed")

	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

var kinds = []error{
	ErrEmptyDocument,
	ErrInvalidChunkConfig,
	ErrModelMismatch,
	ErrNoRelevantContent,
	ErrIndexUnavailable,
	ErrGenerationFailed,
	ErrInvalidInput,
	ErrNotFound,
}

// Error carries a kind, a message and an optional cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

// NewError builds an Error of the given kind.
func NewError(kind error, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return e.Kind.Error()
	case e.Err == nil:
		return e.Kind.Error() + ": " + e.Message
	case e.Message == "":
		return e.Kind.Error() + ": " + e.Err.Error()
	}
	return e.Kind.Error() + ": " + e.Message + ": " + e.Err.Error()
}

func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the first known kind found in err's chain, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsTransient reports whether err may succeed when retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrIndexUnavailable)
}
