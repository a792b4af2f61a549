package core

import "errors"

var (
	// ErrInvalidBody indicates a body failed admission checks (mass <= 0,
	// non-finite position or velocity, unknown role).
	ErrInvalidBody = errors.New("invalid body")
	// ErrCoincidentBodies indicates a primary and secondary share a
	// position, leaving gravity undefined.
	ErrCoincidentBodies = errors.New("coincident bodies")
	// ErrInvalidTimestep indicates a negative or non-finite dt.
	ErrInvalidTimestep = errors.New("invalid timestep")
	// ErrNonFiniteState indicates integration produced NaN or Inf.
	ErrNonFiniteState = errors.New("non-finite body state")
	// ErrBodyNotFound indicates an unknown or removed handle.
	ErrBodyNotFound = errors.New("body not found")
	// ErrTemplateNotFound indicates a missing body template.
	ErrTemplateNotFound = errors.New("body template not found")
	// ErrNoPrimary indicates a secondary has no primary to pair with, or
	// its primary is not in the scene.
	ErrNoPrimary = errors.New("no primary for secondary")
	// ErrAssetNotReady indicates the body's presentation asset has not
	// resolved, or failed to load, so it cannot enter the scene.
	ErrAssetNotReady = errors.New("asset not ready")
)
