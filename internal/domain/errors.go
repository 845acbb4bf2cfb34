package domain

import "errors"

// Validation errors: the caller's fault, always raised before any mutation.
var (
	ErrInvalidAmount     = errors.New("amount out of bounds")
	ErrInvalidDuration   = errors.New("invalid duration bounds")
	ErrAssetNotAllowed   = errors.New("asset not in allow-list")
	ErrCommitmentExpired = errors.New("commitment expired")
	ErrInvalidPrice      = errors.New("price unavailable or zero")
	ErrZeroMinReturn     = errors.New("min return must be non-zero")
	ErrInvalidCommitment = errors.New("invalid commitment parameters")
)

// Authorization errors.
var (
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrUnauthorizedCaller = errors.New("caller not authorized for this role")
)

// Concurrency errors: another transition won, or a replay was attempted.
var (
	ErrNonceUsed    = errors.New("nonce already used")
	ErrBadState     = errors.New("option not in expected state")
	ErrInSettlement = errors.New("option settlement already in progress")
	ErrLockHeld     = errors.New("lock already held")
)

// Settlement errors: recoverable by retrying with fresh parameters.
var (
	ErrDeadlineElapsed  = errors.New("settlement deadline elapsed")
	ErrSettlementFailed = errors.New("settlement output failed validation")
	ErrNotExercisable   = errors.New("option not exercisable at current price")
	ErrNotExpired       = errors.New("option not yet expired")
)

// Invariant violations: bookkeeping bugs, the whole operation must halt.
var (
	ErrLedgerUnderflow     = errors.New("collateral ledger underflow")
	ErrOverDistribution    = errors.New("distribution exceeds proceeds")
	ErrVaultInsufficient   = errors.New("vault balance insufficient")
	ErrCollateralInvariant = errors.New("locked collateral exceeds protocol holdings")
)

// Lookup errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)
