package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/selinon/selinon-sub000/internal/storage"
)

var _ storage.Backend = (*Store)(nil)

// Retrieve returns the result stored for (flowName, nodeName, id).
// Wraps storage.ErrNotFound when no row exists.
func (s *Store) Retrieve(ctx context.Context, flowName, nodeName, id string) (any, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT result FROM results
		WHERE flow_name = ? AND node_name = ? AND id = ?
	`, flowName, nodeName, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("retrieve %s: %w", storage.Key(flowName, nodeName, id), storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieve result: %w", err)
	}
	v, err := unmarshalValue(data)
	if err != nil {
		return nil, fmt.Errorf("retrieve result: %w", err)
	}
	return v, nil
}

// Store persists result for (flowName, nodeName, id) and returns id as the
// record id. Storing the same key twice keeps the first value, so a task
// that is delivered twice cannot change a result already observed.
func (s *Store) Store(ctx context.Context, flowName, nodeName, id string, result any) (string, error) {
	data, err := marshalValue(result)
	if err != nil {
		return "", fmt.Errorf("store result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results (flow_name, node_name, id, result, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(flow_name, node_name, id) DO NOTHING
	`, flowName, nodeName, id, data, s.nextSeq())
	if err != nil {
		return "", fmt.Errorf("store result: %w", err)
	}
	return id, nil
}

func marshalValue(v any) (string, error) {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

func unmarshalValue(data string) (any, error) {
	if data == "" || data == "null" {
		return nil, nil
	}
	var v any
	if err := sonic.ConfigStd.UnmarshalFromString(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}
