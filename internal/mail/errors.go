package mail

import (
	"errors"
	"fmt"
)

// EncodingError reports a MIME decode failure for a specific message.
// It is fatal for the chunk being fetched: retrying the same bytes cannot
// succeed, so the sync run surfaces it and moves on to the next folder.
type EncodingError struct {
	UID   uint32
	Cause error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("decode message uid %d: %v", e.UID, e.Cause)
}

func (e *EncodingError) Unwrap() error { return e.Cause }

// IsEncoding reports whether err is (or wraps) an EncodingError.
func IsEncoding(err error) bool {
	var ee *EncodingError
	return errors.As(err, &ee)
}
