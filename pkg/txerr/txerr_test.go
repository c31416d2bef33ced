package txerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type codedError struct {
	code int
	msg  string
}

func (e codedError) Error() string  { return e.msg }
func (e codedError) ErrorCode() int { return e.code }

func TestIsUserRejected(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canonical", ErrUserRejected, true},
		{"wrapped canonical", fmt.Errorf("send: %w", ErrUserRejected), true},
		{"metamask phrase", errors.New("User rejected the request."), true},
		{"denied", errors.New("MetaMask Tx Signature: User denied transaction signature."), true},
		{"bare rejected", errors.New("request Rejected by wallet"), true},
		{"code only", codedError{code: 4001, msg: "nope"}, true},
		{"other code", codedError{code: -32000, msg: "insufficient funds for gas"}, false},
		{"nonce", errors.New("nonce too low"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUserRejected(tt.err))
		})
	}
}

func TestClassifySubmission(t *testing.T) {
	rejected := ClassifySubmission(errors.New("User rejected the request"), MsgUserRejected)
	require.NotNil(t, rejected)
	require.Equal(t, KindUserRejected, rejected.Kind)
	require.Equal(t, MsgUserRejected, rejected.Message)

	failed := ClassifySubmission(errors.New("insufficient funds for gas * price + value\ndetails"), MsgUserRejected)
	require.Equal(t, KindSubmissionFailed, failed.Kind)
	require.Equal(t, "insufficient funds for gas * price + value", failed.Message)

	empty := ClassifySubmission(errors.New("   "), MsgUserRejected)
	require.Equal(t, MsgTransactionFail, empty.Message)

	require.Nil(t, ClassifySubmission(nil, MsgUserRejected))
}

func TestClassifySubmissionKeepsClassified(t *testing.T) {
	orig := New(KindUserRejected, MsgApprovalDeclined, ErrUserRejected)
	got := ClassifySubmission(fmt.Errorf("approve: %w", orig), MsgUserRejected)
	require.Same(t, orig, got)
}

func TestMessageAndKindOf(t *testing.T) {
	err := fmt.Errorf("acquire: %w", New(KindOrderAcquisitionFailed, "market closed", nil))
	require.Equal(t, KindOrderAcquisitionFailed, KindOf(err))
	require.Equal(t, "market closed", Message(err))
	require.Equal(t, KindUnknown, KindOf(errors.New("x")))
	require.Equal(t, "x", Message(errors.New("x")))
}
