package engine

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/selinon/selinon-sub000/internal/dispatch"
	"github.com/selinon/selinon-sub000/internal/flow"
)

// Flow messages are queued and persisted encoded, so every delivery sees the
// state exactly as a remote broker would hand it back.

func encodeMessage(msg dispatch.Message) ([]byte, error) {
	data, err := sonic.ConfigStd.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	return data, nil
}

func decodeMessage(data []byte) (dispatch.Message, error) {
	var msg dispatch.Message
	if err := sonic.ConfigStd.Unmarshal(data, &msg); err != nil {
		return dispatch.Message{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.State == nil {
		msg.State = &flow.State{}
	}
	return msg, nil
}

// toSnapshot converts a stored sub-flow result back into a snapshot. Durable
// handle stores return it as decoded JSON.
func toSnapshot(v any) (flow.Snapshot, error) {
	switch s := v.(type) {
	case flow.Snapshot:
		return s, nil
	case *flow.Snapshot:
		if s == nil {
			return flow.Snapshot{}, nil
		}
		return *s, nil
	case nil:
		return flow.Snapshot{}, nil
	}
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return flow.Snapshot{}, fmt.Errorf("encode snapshot: %w", err)
	}
	var snap flow.Snapshot
	if err := sonic.ConfigStd.Unmarshal(data, &snap); err != nil {
		return flow.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
