package credits

import "time"

const (
	operationReserve  = "reserve"
	operationConfirm  = "confirm"
	operationRollback = "rollback"
	operationExpire   = "expire"
	operationAdd      = "add"
	operationSuspend  = "suspend"
	operationResume   = "resume"

	operationStatusOK       = "ok"
	operationStatusError    = "error"
	operationStatusCritical = "critical"

	idempotencyPrefixUsage = "usage:"

	defaultPendingTimeout   = 30 * time.Second
	defaultMaxRetries       = 3
	defaultRetryBackoffUnit = time.Second
	defaultListLimit        = 50
	maxListLimit            = 200

	centsPerCredit = 100
)

// Audit operations that drive account suspension. A failed restoration suspends the
// user until a later resume event.
const (
	AuditOperationRollback = operationRollback
	AuditOperationResume   = operationResume
)
