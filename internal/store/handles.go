package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrHandleNotFound is returned when no handle exists for an id.
var ErrHandleNotFound = errors.New("handle not found")

// HandleKind distinguishes dispatched tasks from sub-flows.
type HandleKind string

const (
	KindTask HandleKind = "task"
	KindFlow HandleKind = "flow"
)

// HandleStatus is the lifecycle state of a handle.
type HandleStatus string

const (
	StatusPending HandleStatus = "pending"
	StatusSuccess HandleStatus = "success"
	StatusFailure HandleStatus = "failure"
)

// Handle records one dispatched unit of work.
type Handle struct {
	ID   string
	Kind HandleKind
	Name string
	// FlowName is the flow a task runs in. Empty for top-level flows.
	FlowName string
	// ParentID is the id of the dispatching flow. Empty for top-level flows.
	ParentID string
	Queue    string
	Status   HandleStatus
	Args     any
	Result   any
	Error    string
	// State is the last suspended dispatcher message of a flow handle.
	State []byte
	Seq   int64
}

// CreateHandle inserts a pending handle. Re-inserting an existing id is a
// no-op so redelivered dispatches stay idempotent.
func (s *Store) CreateHandle(ctx context.Context, h Handle) error {
	args, err := marshalValue(h.Args)
	if err != nil {
		return fmt.Errorf("create handle: %w", err)
	}
	status := h.Status
	if status == "" {
		status = StatusPending
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO handles (id, kind, name, flow_name, parent_id, queue, status, args, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, h.ID, string(h.Kind), h.Name, h.FlowName, h.ParentID, h.Queue, string(status), args, s.nextSeq())
	if err != nil {
		return fmt.Errorf("create handle: %w", err)
	}
	return nil
}

// FinishHandle moves a pending handle to status with its result or error.
// Finishing an already finished handle returns an error.
func (s *Store) FinishHandle(ctx context.Context, id string, status HandleStatus, result any, errMsg string) error {
	if status == StatusPending {
		return fmt.Errorf("finish handle %s: status must be terminal", id)
	}
	data, err := marshalValue(result)
	if err != nil {
		return fmt.Errorf("finish handle: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE handles SET status = ?, result = ?, error = ?
		WHERE id = ? AND status = 'pending'
	`, string(status), data, errMsg, id)
	if err != nil {
		return fmt.Errorf("finish handle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish handle: %w", err)
	}
	if n == 0 {
		if _, err := s.GetHandle(ctx, id); err != nil {
			return fmt.Errorf("finish handle: %w", err)
		}
		return fmt.Errorf("finish handle %s: already finished", id)
	}
	return nil
}

// SaveState records the latest suspended message of a flow handle.
func (s *Store) SaveState(ctx context.Context, id string, state []byte) error {
	res, err := s.db.ExecContext(ctx, `UPDATE handles SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("save state %s: %w", id, ErrHandleNotFound)
	}
	return nil
}

// GetHandle returns the handle with the given id.
func (s *Store) GetHandle(ctx context.Context, id string) (Handle, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, flow_name, parent_id, queue, status, args, result, error, state, seq
		FROM handles WHERE id = ?
	`, id)
	h, err := scanHandle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Handle{}, fmt.Errorf("get handle %s: %w", id, ErrHandleNotFound)
	}
	if err != nil {
		return Handle{}, fmt.Errorf("get handle: %w", err)
	}
	return h, nil
}

// ListHandles returns the handles dispatched by parentID in dispatch order.
// An empty parentID lists top-level flows.
func (s *Store) ListHandles(ctx context.Context, parentID string) ([]Handle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, name, flow_name, parent_id, queue, status, args, result, error, state, seq
		FROM handles WHERE parent_id = ?
		ORDER BY seq ASC, id ASC COLLATE BINARY
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list handles: %w", err)
	}
	defer rows.Close()

	var out []Handle
	for rows.Next() {
		h, err := scanHandle(rows)
		if err != nil {
			return nil, fmt.Errorf("list handles: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list handles: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHandle(row rowScanner) (Handle, error) {
	var (
		h            Handle
		kind, status string
		args, result string
	)
	err := row.Scan(&h.ID, &kind, &h.Name, &h.FlowName, &h.ParentID, &h.Queue,
		&status, &args, &result, &h.Error, &h.State, &h.Seq)
	if err != nil {
		return Handle{}, err
	}
	h.Kind = HandleKind(kind)
	h.Status = HandleStatus(status)
	if h.Args, err = unmarshalValue(args); err != nil {
		return Handle{}, err
	}
	if h.Result, err = unmarshalValue(result); err != nil {
		return Handle{}, err
	}
	return h, nil
}
