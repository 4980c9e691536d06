// Package audit provides access to the transitions table: the durable
// trail of every persistence-mode and NUMA state transition attempt.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Transition represents a single transition audit entry.
type Transition struct {
	ID         string    `json:"id"`
	PCIAddress string    `json:"pci_address"`
	Kind       string    `json:"kind"`
	FromState  string    `json:"from_state"`
	ToState    string    `json:"to_state"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filter controls which transitions to return.
type Filter struct {
	PCIAddress string // optional: filter by device address
	Kind       string // optional: filter by kind (mode, numa)
	Limit      int    // default 50, max 200
	Offset     int    // pagination offset
}

// ListResult contains the paginated transition results.
type ListResult struct {
	Transitions []Transition `json:"transitions"`
	Total       int          `json:"total"`
	Limit       int          `json:"limit"`
	Offset      int          `json:"offset"`
}

// Repository defines the interface for transition audit operations.
type Repository interface {
	Create(ctx context.Context, tr *Transition) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores transitions in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new transition repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new transition entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, tr *Transition) error {
	if tr.ID == "" {
		tr.ID = "trn-" + uuid.NewString()[:8]
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}

	success := 0
	if tr.Success {
		success = 1
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transitions (id, pci_address, kind, from_state, to_state, success, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.PCIAddress, tr.Kind, tr.FromState, tr.ToState,
		success, tr.Error,
		tr.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting transition: %w", err)
	}

	return nil
}

// List returns transitions matching the filter, ordered by most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for transition queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.PCIAddress != "" {
		conditions = append(conditions, "pci_address = ?")
		args = append(args, filter.PCIAddress)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Get total count.
	// WHERE clause is built from parameterised conditions (? placeholders) — no user input in SQL string.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transitions %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting transitions: %w", err)
	}

	// Get paginated results.
	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, pci_address, kind, from_state, to_state, success, error, created_at FROM transitions %s ORDER BY created_at DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var tr Transition
		var success int
		var createdAt string

		if err := rows.Scan(&tr.ID, &tr.PCIAddress, &tr.Kind,
			&tr.FromState, &tr.ToState, &success, &tr.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}

		tr.Success = success == 1

		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing transition timestamp %q: %w", createdAt, err)
		}
		tr.CreatedAt = t

		transitions = append(transitions, tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transitions: %w", err)
	}

	if transitions == nil {
		transitions = []Transition{}
	}

	return &ListResult{
		Transitions: transitions,
		Total:       total,
		Limit:       filter.Limit,
		Offset:      filter.Offset,
	}, nil
}
