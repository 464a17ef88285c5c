package call

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{name: "plain", err: NewError("create offer", cause), want: "create offer: boom"},
		{name: "peer", err: NewPeerError("answer offer", "bob", cause), want: "answer offer bob: boom"},
		{name: "details", err: WrapError("create peer connection", cause, "ice policy relay"), want: "create peer connection: boom (ice policy relay)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
			assert.ErrorIs(t, tt.err, cause)
		})
	}
}
