package scanmesh

import "errors"

var (
	// ErrNilMesh is returned when a nil mesh is passed.
	ErrNilMesh = errors.New("mesh is nil")

	// ErrTooFewVertices is returned when a mesh has insufficient vertices for an operation.
	ErrTooFewVertices = errors.New("too few vertices for operation")

	// ErrTooFewPoints is returned when a point set has insufficient points for a fit.
	ErrTooFewPoints = errors.New("too few points for fit")

	// ErrInvalidTopology is returned when the triangle index list violates mesh invariants.
	ErrInvalidTopology = errors.New("invalid mesh topology")

	// ErrSingularSystem is returned when a linear solve is too ill-conditioned to trust.
	ErrSingularSystem = errors.New("singular linear system")

	// ErrConfidenceMismatch is returned when a confidence override has the wrong length.
	ErrConfidenceMismatch = errors.New("confidence length does not match vertex count")
)
