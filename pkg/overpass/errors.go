package overpass

import "errors"

// ErrRemark is returned when Overpass answers with a runtime error remark
// instead of data, typically a query timeout or memory exhaustion.
var ErrRemark = errors.New("overpass remark")
