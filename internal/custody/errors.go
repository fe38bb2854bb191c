package custody

import "errors"

var (
	// ErrUnauthorized is returned when a non-admin invokes an admin-only operation
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBidTooLow is returned when a third-party deposit does not clear the eviction margin
	ErrBidTooLow = errors.New("bid too low")

	// ErrAssetHeld is returned when an asset that is already held is deposited again
	ErrAssetHeld = errors.New("asset already held")

	// ErrInvalidDeposit is returned for a deposit from the zero asset address or for the zero custodian
	ErrInvalidDeposit = errors.New("invalid deposit")

	// ErrUnknownRelease is returned for a bounce that matches no outstanding release
	ErrUnknownRelease = errors.New("unknown release")

	// ErrInvalidConfig is returned by New for an unusable Config
	ErrInvalidConfig = errors.New("invalid custody config")
)
