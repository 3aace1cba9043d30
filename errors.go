package vidtensor

import "github.com/five82/vidtensor/internal/errs"

// Error types are re-exported so callers can use errors.As against them
// without importing an internal package.
type (
	MediaError      = errs.MediaError
	IOError         = errs.IOError
	LogicError      = errs.LogicError
	OutOfRangeError = errs.OutOfRangeError
	FormatError     = errs.FormatError
)
