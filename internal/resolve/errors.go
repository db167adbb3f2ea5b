package resolve

import "errors"

// ErrInvalidCoordinate：经纬度不是有限值
var ErrInvalidCoordinate = errors.New("invalid coordinate")
