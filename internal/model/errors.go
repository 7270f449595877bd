package model

import "errors"

// Sentinel error kinds, per the error taxonomy: configuration, enumeration,
// driver, and database-contention failures are all recoverable at the
// caller; worker-body and executor crashes are not retried automatically.
var (
	ErrConfiguration      = errors.New("configuration error")
	ErrEnumeration        = errors.New("enumeration error")
	ErrDriverTimeout      = errors.New("driver timed out")
	ErrDriverNoResult     = errors.New("driver produced no terminal result event")
	ErrJobNotFound        = errors.New("job not found")
	ErrWorkUnitNotFound   = errors.New("work unit not found")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrDatabaseBusy       = errors.New("database busy")
	ErrAlreadyRunning     = errors.New("job already running")
)
