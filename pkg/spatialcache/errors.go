package spatialcache

import "errors"

// ErrGraphUnavailable indicates the road graph could not be fetched from the provider.
var ErrGraphUnavailable = errors.New("road graph unavailable")
