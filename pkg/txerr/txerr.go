package txerr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// Kind classifies a failure in the approval/trade pipeline
type Kind int

const (
	KindUnknown Kind = iota
	// KindUserRejected means the signer declined the request
	KindUserRejected
	// KindSubmissionFailed is any other signer or node error while submitting
	KindSubmissionFailed
	// KindConfirmationFailed means the transaction reverted, was dropped or got stuck
	KindConfirmationFailed
	// KindOrderAcquisitionFailed means the backend did not produce an order
	KindOrderAcquisitionFailed
	// KindAllowanceReadFailed is never surfaced to users; it forces the approval path
	KindAllowanceReadFailed
)

func (k Kind) String() string {
	switch k {
	case KindUserRejected:
		return "UserRejected"
	case KindSubmissionFailed:
		return "SubmissionFailed"
	case KindConfirmationFailed:
		return "ConfirmationFailed"
	case KindOrderAcquisitionFailed:
		return "OrderAcquisitionFailed"
	case KindAllowanceReadFailed:
		return "AllowanceReadFailed"
	default:
		return "Unknown"
	}
}

// RejectedCode is the EIP-1193 "user rejected request" error code
const RejectedCode = 4001

const (
	MsgUserRejected     = "User rejected"
	MsgApprovalDeclined = "Approval request declined"
	MsgTransactionFail  = "Transaction failed"
	MsgApprovalFailed   = "Approval failed"
	MsgTradeFailed      = "Trade failed"
)

var rejectionPhrases = []string{"user rejected", "rejected", "denied"}

// Error is a classified failure with a user-facing message
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of a classified error, or KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message returns the user-facing message of err
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if msg := ShortMessage(err); msg != "" {
		return msg
	}
	return MsgTransactionFail
}

// IsUserRejected reports whether a signer error means the user declined.
// It honours the canonical 4001 code and falls back to a case-insensitive
// match on the usual rejection phrases.
func IsUserRejected(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == KindUserRejected {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == RejectedCode {
		return true
	}
	lower := strings.ToLower(err.Error())
	for _, phrase := range rejectionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// ClassifySubmission turns a signer error into UserRejected or SubmissionFailed.
// rejectedMsg is the message used for the rejection case.
func ClassifySubmission(err error, rejectedMsg string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && (e.Kind == KindUserRejected || e.Kind == KindSubmissionFailed) {
		return e
	}
	if IsUserRejected(err) {
		return New(KindUserRejected, rejectedMsg, err)
	}
	msg := ShortMessage(err)
	if msg == "" {
		msg = MsgTransactionFail
	}
	return New(KindSubmissionFailed, msg, err)
}

// ShortMessage is the first line of an error message, trimmed
func ShortMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = strings.TrimSpace(msg[:i])
	}
	return msg
}

// Rejection is the error a signer returns when the user declines a prompt
type Rejection struct{}

func (Rejection) Error() string  { return "user rejected the request" }
func (Rejection) ErrorCode() int { return RejectedCode }

// ErrUserRejected is the canonical rejection value
var ErrUserRejected error = Rejection{}
