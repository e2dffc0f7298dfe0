package roadgraph

import "errors"

// ErrDanglingEdge indicates an edge whose endpoint is not part of the graph.
var ErrDanglingEdge = errors.New("edge references unknown node")
