package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "op and message",
			err:  Validation("register", "function %q already registered", "f1"),
			want: `register: function "f1" already registered`,
		},
		{
			name: "message only",
			err:  Security("", "rate limit exceeded"),
			want: "rate limit exceeded",
		},
		{
			name: "runtime wraps cause",
			err:  Runtime("execute", errors.New("boom")),
			want: "execute: handler failed: boom",
		},
		{
			name: "wrap without message",
			err:  Wrap(KindResourceExhausted, "", errors.New("too big")),
			want: "too big",
		},
		{
			name: "wrap with op",
			err:  Wrap(KindValidation, "validate result", errors.New("bad shape")),
			want: "validate result: bad shape",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Validation("op", "bad")))
	assert.Equal(t, KindSecurity, KindOf(fmt.Errorf("outer: %w", Security("op", "denied"))))
	assert.Equal(t, KindRuntime, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("release failed: %w", ResourceExhausted("shutdown", "timed out"))

	assert.True(t, IsKind(err, KindResourceExhausted))
	assert.False(t, IsKind(err, KindSecurity))
	assert.False(t, IsKind(nil, KindRuntime))
}

func TestSentinels(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Validation("get", "function %q not found", "x"))

	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrSecurity))

	cause := errors.New("disk gone")
	rt := Runtime("execute", cause)
	assert.True(t, errors.Is(rt, cause))
	assert.True(t, errors.Is(rt, ErrRuntime))
}
