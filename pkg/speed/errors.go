package speed

import "errors"

// ErrMalformedAttribute indicates a maxspeed value whose shape or format is not recognized.
var ErrMalformedAttribute = errors.New("malformed speed attribute")
