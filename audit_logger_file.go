package stepflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileAuditLogger is an implementation of AuditLogger that logs to a file.
// A file is created per execution, formatted as newline-delimited JSON.
type FileAuditLogger struct {
	directory string
}

func NewFileAuditLogger(directory string) *FileAuditLogger {
	return &FileAuditLogger{directory: directory}
}

func (l *FileAuditLogger) auditTrailPath(executionID string) string {
	return filepath.Join(l.directory, fmt.Sprintf("%s.jsonl", executionID))
}

func (l *FileAuditLogger) LogTransition(ctx context.Context, entry *AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	filePath := l.auditTrailPath(entry.ExecutionID)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func (l *FileAuditLogger) GetAuditTrail(ctx context.Context, executionID string) ([]*AuditEntry, error) {
	data, err := os.ReadFile(l.auditTrailPath(executionID))
	if err != nil {
		return nil, err
	}
	var entries []*AuditEntry
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}
