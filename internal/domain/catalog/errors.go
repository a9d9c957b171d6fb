package catalog

import "errors"

// Sentinel errors for catalog loading. Every validation failure wraps
// ErrInvalidCatalog.
var (
	ErrInvalidCatalog = errors.New("invalid rule catalog")
	ErrInvalidField   = errors.New("invalid condition field")
	ErrLoadCatalog    = errors.New("load rule catalog failed")
)
