package prefetch

import "fmt"

type FetchErrorCause string

const (
	CauseInvalidURI FetchErrorCause = "invalid uri"
	CauseNetwork    FetchErrorCause = "network failure"
	CauseStatus     FetchErrorCause = "unexpected status"
	CauseTooLarge   FetchErrorCause = "image too large"
	CauseNotImage   FetchErrorCause = "non-image content"
	CauseDecode     FetchErrorCause = "decode failure"
)

// FetchError describes why warming an image failed.
type FetchError struct {
	URI        string
	Cause      FetchErrorCause
	StatusCode int   // Only set for CauseStatus.
	Err        error // Underlying error, if any.
}

func (e *FetchError) Error() string {
	switch {
	case e.Cause == CauseStatus:
		return fmt.Sprintf("prefetch error: %s %d for %s", e.Cause, e.StatusCode, e.URI)
	case e.Err != nil:
		return fmt.Sprintf("prefetch error: %s for %s: %v", e.Cause, e.URI, e.Err)
	default:
		return fmt.Sprintf("prefetch error: %s for %s", e.Cause, e.URI)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
