package refreshtokens

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/authsession/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteEach(t *testing.T) {
	boom := errors.New("boom")
	failOn := func(bad ...string) func(context.Context, string) error {
		return func(_ context.Context, tok string) error {
			for _, b := range bad {
				if tok == b {
					return boom
				}
			}
			return nil
		}
	}

	t.Run("all deleted", func(t *testing.T) {
		done, err := deleteEach(context.Background(), []string{"a", "b"}, failOn())
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, done)
	})

	t.Run("nothing deleted returns backend error", func(t *testing.T) {
		done, err := deleteEach(context.Background(), []string{"a", "b"}, failOn("a", "b"))
		assert.Empty(t, done)
		assert.Same(t, boom, err)
	})

	t.Run("partial", func(t *testing.T) {
		done, err := deleteEach(context.Background(), []string{"a", "b", "c"}, failOn("b"))
		assert.Equal(t, []string{"a", "c"}, done)

		var pe *PartialDeleteError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, 2, pe.Deleted)
		assert.Equal(t, 1, pe.Failed)
		assert.ErrorIs(t, err, common.ErrStorageUnavailable)
		assert.ErrorIs(t, err, boom)
	})
}
