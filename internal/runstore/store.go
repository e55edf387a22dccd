package runstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hochfrequenz/sandbox-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for build runs and their
// event logs, so status queries and replay survive a process restart.
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	// The pragma rides on the DSN so every pooled connection enforces
	// foreign keys
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}

	// Run migrations
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts or updates a run snapshot
func (s *Store) SaveRun(run *domain.BuildRun) error {
	inputJSON, err := json.Marshal(run.Input)
	if err != nil {
		return err
	}
	ticketsJSON, err := json.Marshal(run.Tickets)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO build_runs (id, status, paused, current_ticket_id, error, input, tickets, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			paused = excluded.paused,
			current_ticket_id = excluded.current_ticket_id,
			error = excluded.error,
			tickets = excluded.tickets,
			updated_at = excluded.updated_at
	`,
		run.ID,
		string(run.Status),
		run.Paused,
		run.CurrentTicketID,
		run.Error,
		string(inputJSON),
		string(ticketsJSON),
		run.CreatedAt,
		run.UpdatedAt,
	)
	return err
}

// GetRun retrieves a run by id
func (s *Store) GetRun(id string) (*domain.BuildRun, error) {
	row := s.db.QueryRow(`
		SELECT id, status, paused, current_ticket_id, error, input, tickets, created_at, updated_at
		FROM build_runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// ListRuns returns all runs, newest first
func (s *Store) ListRuns() ([]*domain.BuildRun, error) {
	rows, err := s.db.Query(`
		SELECT id, status, paused, current_ticket_id, error, input, tickets, created_at, updated_at
		FROM build_runs ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.BuildRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AppendEvent persists one event
func (s *Store) AppendEvent(e domain.Event) error {
	var payloadJSON []byte
	if e.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(e.Payload)
		if err != nil {
			return err
		}
	}

	_, err := s.db.Exec(`INSERT INTO events (run_id, type, payload, at) VALUES (?, ?, ?, ?)`,
		e.RunID, e.Type, string(payloadJSON), e.At)
	return err
}

// ListEvents returns the full event history for a run in append order
func (s *Store) ListEvents(runID string) ([]domain.Event, error) {
	rows, err := s.db.Query(`SELECT run_id, type, payload, at FROM events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var payloadJSON sql.NullString
		if err := rows.Scan(&e.RunID, &e.Type, &payloadJSON, &e.At); err != nil {
			return nil, err
		}
		if payloadJSON.Valid && payloadJSON.String != "" && payloadJSON.String != "null" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &e.Payload); err != nil {
				return nil, err
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.BuildRun, error) {
	var run domain.BuildRun
	var status, inputJSON, ticketsJSON string
	var currentTicket, errMsg sql.NullString

	err := row.Scan(&run.ID, &status, &run.Paused, &currentTicket, &errMsg, &inputJSON, &ticketsJSON, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	if currentTicket.Valid {
		run.CurrentTicketID = currentTicket.String
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	if err := json.Unmarshal([]byte(inputJSON), &run.Input); err != nil {
		return nil, fmt.Errorf("decoding run input: %w", err)
	}
	if err := json.Unmarshal([]byte(ticketsJSON), &run.Tickets); err != nil {
		return nil, fmt.Errorf("decoding run tickets: %w", err)
	}

	return &run, nil
}
