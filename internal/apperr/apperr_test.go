package apperr

import (
	"errors"
	"testing"
)

func TestClassifyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Severity
	}{
		{"nil", nil, NonCritical},
		{"connection closed", ErrConnectionClosed, ClientFatal},
		{"connection reset", ErrConnectionReset, ClientFatal},
		{"channel recv", ErrChannelRecv, ClientFatal},
		{"channel lag", ErrChannelLag, ClientFatal},
		{"reply dropped", ErrReplyDropped, ClientFatal},
		{"need more", ErrNeedMore, NonCritical},
		{"invalid arg", ErrInvalidArg, NonCritical},
		{"wrapped fatal", Wrap("session read", ErrConnectionReset), ClientFatal},
		{"plain unrelated", errors.New("boom"), NonCritical},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyErr(tc.err); got != tc.want {
				t.Errorf("ClassifyErr(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestWrapPreservesSentinelMatching(t *testing.T) {
	wrapped := Wrap("listener accept", ErrBannedIP)
	if !errors.Is(wrapped, ErrBannedIP) {
		t.Fatalf("expected wrapped error to match ErrBannedIP via errors.Is")
	}
	if wrapped.Error() == ErrBannedIP.Error() {
		t.Fatalf("expected wrapped error to add context, got identical message")
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if err := Wrap("context", nil); err != nil {
		t.Fatalf("Wrap(ctx, nil) = %v, want nil", err)
	}
}
