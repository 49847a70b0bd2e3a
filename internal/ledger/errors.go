package ledger

import (
	"context"
	"errors"
	"fmt"

	dErrors "vaxledger/pkg/domain-errors"
)

// Kind classifies a ledger failure.
type Kind string

const (
	// KindUnavailable is transient: transport down, timeout, breaker open.
	KindUnavailable Kind = "unavailable"
	// KindRejected means the ledger refused the transaction.
	KindRejected Kind = "rejected"
	// KindAlreadyRewarded is the reward compare-and-set failing.
	KindAlreadyRewarded Kind = "already_rewarded"
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ledger %s %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("ledger %s %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func Unavailable(op string, err error) error {
	return &Error{Kind: KindUnavailable, Op: op, Err: err}
}

func Rejected(op string, err error) error {
	return &Error{Kind: KindRejected, Op: op, Err: err}
}

func AlreadyRewarded(op string) error {
	return &Error{Kind: KindAlreadyRewarded, Op: op}
}

// KindOf returns the failure kind. Context deadlines count as unavailable;
// any other unclassified error is treated the same.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnavailable
}

func IsUnavailable(err error) bool {
	return err != nil && KindOf(err) == KindUnavailable
}

func IsRejected(err error) bool {
	return err != nil && KindOf(err) == KindRejected
}

func IsAlreadyRewarded(err error) bool {
	return err != nil && KindOf(err) == KindAlreadyRewarded
}

// DomainError maps a ledger failure onto the service error taxonomy.
func DomainError(err error) error {
	if err == nil {
		return nil
	}
	switch KindOf(err) {
	case KindAlreadyRewarded:
		return dErrors.Wrap(err, dErrors.CodeDuplicate, "reward already issued for this child")
	case KindRejected:
		return dErrors.Wrap(err, dErrors.CodeLedgerRejected, "ledger rejected the transaction")
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			return dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "ledger timed out")
		}
		return dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "ledger unavailable")
	}
}
