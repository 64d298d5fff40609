package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesByType(t *testing.T) {
	t.Parallel()

	err := Newf(ErrDuplicateJob, "job %s exists", "p/b/zh")
	wrapped := fmt.Errorf("enqueue: %w", err)

	assert.True(t, errors.Is(wrapped, DuplicateJob))
	assert.False(t, errors.Is(wrapped, QueueSaturated))
	assert.True(t, IsType(wrapped, ErrDuplicateJob))
}

func TestError_MessageIncludesContextAndCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := Wrap(cause, ErrFetch, "get metadata").WithContext("book", "n1").WithContext("provider", "syosetu")

	assert.Equal(t, "[Fetch] get metadata | context: book=n1, provider=syosetu | cause: connection refused", err.Error())
	require.ErrorIs(t, err, cause)
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	cases := map[error]int{
		New(ErrInvalidUnit, "x"):    http.StatusBadRequest,
		New(ErrDuplicateJob, "x"):   http.StatusConflict,
		New(ErrQueueSaturated, "x"): http.StatusServiceUnavailable,
		New(ErrFetch, "x"):          http.StatusBadGateway,
		New(ErrNotFound, "x"):       http.StatusNotFound,
		ArityError(2, 3):            http.StatusInternalServerError,
		errors.New("plain"):         http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}

func TestUserMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "update job is already queued", UserMessage(DuplicateJob))
	assert.Equal(t, "update queue is full, try later", UserMessage(QueueSaturated))
	assert.Equal(t, "internal error", UserMessage(errors.New("boom")))
	assert.Equal(t, "episode e9 not in toc", UserMessage(New(ErrInvalidUnit, "episode e9 not in toc")))
}
