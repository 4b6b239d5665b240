package errors

// Scheduler status codes. The 1000 block maps one-to-one onto the error
// kinds the orchestrator reports in the cycle summary and exit code.
const (
	Success = 200

	// Configuration and input errors (4000 series)
	ErrBadRequest   = 4000
	ErrInvalidParam = 4001
	ErrUnauthorized = 4010
	ErrForbidden    = 4030
	ErrNotFound     = 4040
	ErrConflict     = 4090

	// Server-side errors (5000 series)
	ErrInternalServer  = 5000
	ErrExternalService = 5001
	ErrDatabase        = 5002
	ErrCache           = 5003

	// Cycle error kinds (1000 series)
	ErrConfig             = 1001 // unreadable or invalid goals/template config
	ErrTransientExternal  = 1002 // network/5xx from calendar, wearable, LM or store
	ErrPermission         = 1003 // 401/403 from an external API
	ErrDegraded           = 1004 // all LM models failed, template-only fallback used
	ErrConflictUnresolved = 1005 // no free slot for the chosen discipline
	ErrIntegrity          = 1006 // duplicate key on store insert
	ErrDeadlineExceeded   = 1007 // cycle deadline hit
	ErrAlreadyRunning     = 1008 // another cycle holds the advisory lock
)
