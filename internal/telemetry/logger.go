package telemetry

import (
	"context"

	"github.com/MarkoPoloResearchLab/gamewallet/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapOperationLogger writes one structured line per wallet operation.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps logger. A nil logger discards output.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("user_id", entry.UserID.String()),
		zap.String("currency", entry.Currency.String()),
		zap.Int64("amount_cents", entry.Amount.Int64()),
		zap.Int("attempts", entry.Attempts),
	}
	if providerID := entry.ProviderID.String(); providerID != "" {
		fields = append(fields,
			zap.String("provider_id", providerID),
			zap.String("transaction_id", entry.TransactionID.String()),
			zap.String("game_id", entry.GameID.String()),
			zap.String("round_id", entry.RoundID.String()),
		)
	}
	if !entry.Reference.IsZero() {
		fields = append(fields, zap.String("reference", entry.Reference.String()))
	}
	if entry.Error != nil {
		fields = append(fields,
			zap.String("error_class", string(ledger.Classify(entry.Error))),
			zap.Error(entry.Error),
		)
	}
	operationLogger.logger.Log(levelFor(entry), "wallet operation", fields...)
}

func levelFor(entry ledger.OperationLog) zapcore.Level {
	switch ledger.Classify(entry.Error) {
	case ledger.ErrorClassNone, ledger.ErrorClassDuplicate:
		return zapcore.InfoLevel
	case ledger.ErrorClassRejected, ledger.ErrorClassInvalid, ledger.ErrorClassFatal, ledger.ErrorClassRetryable:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// Fanout forwards each operation to every logger in order.
type Fanout []ledger.OperationLogger

func (loggers Fanout) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	for _, logger := range loggers {
		if logger != nil {
			logger.LogOperation(ctx, entry)
		}
	}
}
