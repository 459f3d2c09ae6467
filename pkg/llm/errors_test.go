package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		code int
		msg  string
		want ErrorKind
	}{
		{429, "", KindCapacity},
		{503, "", KindCapacity},
		{0, "RESOURCE_EXHAUSTED: Quota exceeded for metric", KindCapacity},
		{500, "The model is overloaded. Please try again later.", KindCapacity},
		{404, "models/gemini-9 is not found", KindNotFound},
		{0, "model not found", KindNotFound},
		{400, "invalid argument", KindInvalidRequest},
		{401, "", KindAuth},
		{403, "", KindAuth},
		{500, "internal error", KindUnknown},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d %s", tc.code, tc.msg), func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyStatus(tc.code, tc.msg))
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("iteration 2: %w", NewError("gemini", "gemini-2.5-flash", 429, "quota", cause))

	assert.Equal(t, KindCapacity, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "gemini-2.5-flash")

	ex := &ExhaustedError{Models: []string{"a", "b"}, Last: err}
	assert.True(t, IsCapacity(ex))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestIsContextError(t *testing.T) {
	assert.True(t, IsContextError(context.Canceled))
	assert.True(t, IsContextError(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.False(t, IsContextError(errors.New("nope")))
}
