package sqlite

import "errors"

var (
	ErrBuildQuery = errors.New("sqlite.store: failed to build query")
	ErrExecQuery  = errors.New("sqlite.store: failed to execute query")
	ErrScanRow    = errors.New("sqlite.store: failed to scan row")
	ErrDecodeBody = errors.New("sqlite.store: failed to decode entity body")
)
