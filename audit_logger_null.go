package stepflow

import "context"

// NullAuditLogger is a no-op implementation of AuditLogger.
type NullAuditLogger struct{}

func NewNullAuditLogger() *NullAuditLogger {
	return &NullAuditLogger{}
}

func (l *NullAuditLogger) LogTransition(ctx context.Context, entry *AuditEntry) error {
	return nil
}

func (l *NullAuditLogger) GetAuditTrail(ctx context.Context, executionID string) ([]*AuditEntry, error) {
	return nil, nil
}
