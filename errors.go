package kestrel

import "github.com/kestrel-run/kestrel/internal/errs"

// Error taxonomy. Names are semantic, not linguistic. Values are shared
// with internal packages via internal/errs to avoid an import cycle
// (internal packages can't import the root package, which imports them).
var (
	ErrHandleExpired    = errs.ErrHandleExpired
	ErrCantConvert      = errs.ErrCantConvert
	ErrOutOfBounds      = errs.ErrOutOfBounds
	ErrIndexOutOfBounds = errs.ErrIndexOutOfBounds
	ErrParseError       = errs.ErrParseError
	ErrCompileError     = errs.ErrCompileError
	ErrMainScriptError  = errs.ErrMainScriptError
	ErrPanic            = errs.ErrPanic
	ErrPoolClosed       = errs.ErrPoolClosed
	ErrPromiseNotFound  = errs.ErrPromiseNotFound
)
