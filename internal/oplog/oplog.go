// Package oplog routes credit service operation events to zap.
package oplog

import (
	"context"

	"github.com/inglespareto/credits/pkg/credits"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements credits.OperationLogger.
type ZapLogger struct {
	logger *zap.Logger
}

// New wraps logger; a nil logger discards every entry.
func New(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.Named("credits")}
}

// LogOperation writes one structured line. Critical entries are logged at error level.
func (operationLogger *ZapLogger) LogOperation(ctx context.Context, entry credits.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.String("status", entry.Status),
	}
	if entry.ActivityType != "" {
		fields = append(fields, zap.String("activity_type", string(entry.ActivityType)))
	}
	if entry.PendingID != "" {
		fields = append(fields, zap.String("pending_id", entry.PendingID))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.Amount.Int64()))
	}
	if entry.Attempts > 0 {
		fields = append(fields, zap.Int("attempts", entry.Attempts))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error), zap.String("error_code", credits.ErrorCode(entry.Error)))
	}
	operationLogger.logger.Log(levelFor(entry), "credit operation", fields...)
}

func levelFor(entry credits.OperationLog) zapcore.Level {
	if entry.Critical() {
		return zapcore.ErrorLevel
	}
	if entry.Error != nil {
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}
