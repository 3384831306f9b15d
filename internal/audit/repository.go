package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nerrad567/retail-auth-core/internal/infrastructure/database"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Filter selects audit events. Empty fields match everything.
type Filter struct {
	Type     EventType
	Category Category
	UserID   string
	Outcome  Outcome
	Limit    int // default 50, max 200
	Offset   int
}

// ListResult is one page of events, most recent first.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// SQLiteRepository persists events in the audit_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts ev.
func (r *SQLiteRepository) Record(ctx context.Context, ev Event) error {
	var details any
	if len(ev.Details) > 0 {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		details = string(b)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, event_type, category, severity, outcome, user_id, username,
			session_id, device_id, ip_address, description, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), string(ev.Category), string(ev.Severity), string(ev.Outcome),
		nullable(ev.UserID), nullable(ev.Username), nullable(ev.SessionID), nullable(ev.DeviceID),
		nullable(ev.IPAddress), ev.Description, details, database.FormatTime(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns events matching f, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) (*ListResult, error) {
	switch {
	case f.Limit <= 0:
		f.Limit = defaultListLimit
	case f.Limit > maxListLimit:
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var (
		conds []string
		args  []any
	)
	add := func(col, val string) {
		if val != "" {
			conds = append(conds, col+" = ?")
			args = append(args, val)
		}
	}
	add("event_type", string(f.Type))
	add("category", string(f.Category))
	add("user_id", f.UserID)
	add("outcome", string(f.Outcome))

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events "+where, args...).Scan(&total); err != nil { //nolint:gosec // WHERE holds only placeholders
		return nil, fmt.Errorf("counting audit events: %w", err)
	}

	query := `SELECT id, event_type, category, severity, outcome, user_id, username, session_id,
		device_id, ip_address, description, details, created_at
		FROM audit_events ` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?` //nolint:gosec // WHERE holds only placeholders
	rows, err := r.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}

	return &ListResult{Events: events, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var (
		ev                                 Event
		typ, cat, sev, outcome, createdAt  string
		userID, username, sessionID, devID sql.NullString
		ipAddr, details                    sql.NullString
	)
	if err := rows.Scan(&ev.ID, &typ, &cat, &sev, &outcome, &userID, &username, &sessionID,
		&devID, &ipAddr, &ev.Description, &details, &createdAt); err != nil {
		return Event{}, fmt.Errorf("scanning audit event: %w", err)
	}

	ev.Type, ev.Category, ev.Severity, ev.Outcome = EventType(typ), Category(cat), Severity(sev), Outcome(outcome)
	ev.UserID, ev.Username, ev.SessionID = userID.String, username.String, sessionID.String
	ev.DeviceID, ev.IPAddress = devID.String, ipAddr.String

	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &ev.Details); err != nil {
			return Event{}, fmt.Errorf("decoding audit details for %s: %w", ev.ID, err)
		}
	}

	t, err := database.ParseTime(createdAt)
	if err != nil {
		return Event{}, err
	}
	ev.CreatedAt = t
	return ev, nil
}
