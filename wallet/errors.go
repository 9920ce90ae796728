package wallet

import (
	"errors"
)

var (
	ErrMintNotExist                 = errors.New("mint does not exist")
	ErrInsufficientMintBalance      = errors.New("not enough funds in selected mint")
	ErrQuoteNotFound                = errors.New("quote not found")
	ErrNoActiveKeysetForUnit        = errors.New("no active keyset for unit")
	ErrInvalidAmount                = errors.New("invalid amount")
	ErrUnitMismatch                 = errors.New("proofs have mixed units")
	ErrDistributionMismatch         = errors.New("sum of preferred distribution does not match amount")
	ErrProofsWithSpendingConditions = errors.New("cannot send proofs that already have spending conditions")
	ErrMixedSpendingConditions      = errors.New("proofs have mixed spending conditions")
	ErrLockedProofsNoKey            = errors.New("proofs are locked and no private key was provided")
	ErrLockingConditionMismatch     = errors.New("private key cannot sign locked proofs")
	ErrInvalidTokenMint             = errors.New("token from different mint")
	ErrUnblindingFailed             = errors.New("unblinding failed")
)
