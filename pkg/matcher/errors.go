package matcher

import "errors"

var (
	// ErrEmptyGraph indicates the graph holds no nodes.
	ErrEmptyGraph = errors.New("graph has no nodes")
	// ErrNoIncidentEdges indicates the nearest node has no edges.
	ErrNoIncidentEdges = errors.New("nearest node has no incident edges")
)
