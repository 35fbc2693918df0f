package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"techclinic/internal/models"
	"techclinic/internal/websocket"
)

// Action constants.
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionAssign = "ASSIGN"
	ActionExport = "EXPORT"
	ActionLogin  = "LOGIN"
	ActionLogout = "LOGOUT"
)

// Modules.
const (
	ModuleRepairJob = "repair_job"
	ModulePart      = "part"
	ModuleSession   = "session"
)

// AuditEntry is re-exported for callers.
type AuditEntry = models.AuditEntry

// Ledger records workflow actions locally. Writes also announce the change
// on the hub so other dashboards can refresh.
type Ledger struct {
	db     *sql.DB
	hub    *websocket.Hub
	logger *zap.Logger
}

// NewLedger creates a Ledger. hub may be nil.
func NewLedger(db *sql.DB, hub *websocket.Hub, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{db: db, hub: hub, logger: logger}
}

// Log writes one entry. Failures are logged, never returned: auditing must
// not fail the action it records.
func (l *Ledger) Log(ctx context.Context, username, action, module, recordID, summary string) {
	if username == "" {
		username = "system"
	}
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO audit_log (username, action, module, record_id, summary) VALUES (?, ?, ?, ?, ?)",
		username, action, module, recordID, summary)
	if err != nil {
		l.logger.Error("audit log write failed", zap.String("action", action), zap.String("module", module), zap.Error(err))
	}
	if l.hub != nil && action != ActionLogin && action != ActionLogout && action != ActionExport {
		l.hub.BroadcastChange(module, strings.ToLower(action), recordID)
	}
}

// LogExport records a data export.
func (l *Ledger) LogExport(ctx context.Context, username, module, format string, count int) {
	summary := fmt.Sprintf("Exported %d records from %s as %s", count, module, format)
	l.Log(ctx, username, ActionExport, module, "", summary)
}

// Filter narrows Recent.
type Filter struct {
	Module   string
	RecordID string
	Limit    int
}

// Recent returns the newest entries first.
func (l *Ledger) Recent(ctx context.Context, f Filter) ([]AuditEntry, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	query := "SELECT id, COALESCE(username,''), action, module, record_id, COALESCE(summary,''), created_at FROM audit_log WHERE 1=1"
	var args []interface{}
	if f.Module != "" {
		query += " AND module = ?"
		args = append(args, f.Module)
	}
	if f.RecordID != "" {
		query += " AND record_id = ?"
		args = append(args, f.RecordID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var created interface{}
		if err := rows.Scan(&e.ID, &e.Username, &e.Action, &e.Module, &e.RecordID, &e.Summary, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = formatTime(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CleanupOld deletes entries older than retentionDays.
func (l *Ledger) CleanupOld(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format("2006-01-02 15:04:05")
	result, err := l.db.ExecContext(ctx, "DELETE FROM audit_log WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func formatTime(v interface{}) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case string:
		return t
	case []byte:
		return string(t)
	}
	return ""
}
