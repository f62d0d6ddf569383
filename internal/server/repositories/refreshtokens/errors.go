package refreshtokens

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/authsession/internal/common"
)

// PartialDeleteError reports a bulk delete that removed some sessions but
// failed on others. It unwraps to common.ErrStorageUnavailable and to the
// first backend error.
type PartialDeleteError struct {
	Deleted int
	Failed  int
	Err     error
}

func (e *PartialDeleteError) Error() string {
	return fmt.Sprintf("partial delete: %d deleted, %d failed: %v", e.Deleted, e.Failed, e.Err)
}

func (e *PartialDeleteError) Unwrap() []error {
	return []error{common.ErrStorageUnavailable, e.Err}
}

// deleteEach removes tokens one at a time with del. It returns the tokens that
// were removed and an error describing the failures, if any.
func deleteEach(ctx context.Context, tokens []string, del func(context.Context, string) error) ([]string, error) {
	var (
		done     = make([]string, 0, len(tokens))
		failed   int
		firstErr error
	)
	for _, tok := range tokens {
		if err := del(ctx, tok); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		done = append(done, tok)
	}

	switch {
	case failed == 0:
		return done, nil
	case len(done) == 0:
		return done, firstErr
	default:
		return done, &PartialDeleteError{Deleted: len(done), Failed: failed, Err: firstErr}
	}
}
