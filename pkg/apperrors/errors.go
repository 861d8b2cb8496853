package apperrors

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnknownColumnRole   = errors.New("unknown column role")
	ErrInvalidIdentifier   = errors.New("invalid identifier")
	ErrSchemaDecode        = errors.New("dv schema could not be decoded")
	ErrCatalogInconsistent = errors.New("catalog returned more than one column")
	ErrMissingColumn       = errors.New("column data missing")
	ErrIncompleteLoad      = errors.New("load completed with skipped components")
)
