package facerec

import "errors"

// Error taxonomy for the recognition core. Errors local to one unit of
// work (one photo, one frame, one candidate) are contained and turned
// into negative results; these sentinels cover shared-setup failures
// that must reach the caller.
var (
	// ErrImageDecode covers corrupt or unreadable image input. Callers
	// must not distinguish sub-causes.
	ErrImageDecode = errors.New("image could not be decoded")

	// ErrImageFetch covers failures resolving an image reference
	// (network error, auth failure, missing object).
	ErrImageFetch = errors.New("image could not be fetched")

	// ErrUnknownIdentity is returned for a missing or inactive identity
	// reference. Caller error, no retry.
	ErrUnknownIdentity = errors.New("unknown or inactive identity")

	// ErrInsufficientData means training was requested with fewer than
	// two identities holding encodings.
	ErrInsufficientData = errors.New("training requires at least 2 identities with encodings")

	// ErrNoModelTrained means predict was requested before any training
	// run completed. Callers should fall back to exhaustive matching.
	ErrNoModelTrained = errors.New("no trained model available")
)
