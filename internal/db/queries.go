package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ExecutionRecord is one executed relay action
type ExecutionRecord struct {
	TaskID     string    `json:"taskId"`
	Prayer     string    `json:"prayer"`
	Relay      string    `json:"relay"`
	State      bool      `json:"state"`
	ExecutedAt time.Time `json:"executedAt"`
}

// LogExecution logs an executed relay action to history
func (d *DB) LogExecution(ctx context.Context, r ExecutionRecord) error {
	_, err := d.conn.Exec(ctx,
		"INSERT INTO automation_history (task_id, prayer, relay, state, executed_at) VALUES ($1, $2, $3, $4, $5)",
		r.TaskID, r.Prayer, r.Relay, r.State, r.ExecutedAt)
	return err
}

// LogDeviceState logs a relay status report to history
func (d *DB) LogDeviceState(ctx context.Context, deviceID string, relays map[string]bool, at time.Time) error {
	state, err := json.Marshal(relays)
	if err != nil {
		return err
	}
	_, err = d.conn.Exec(ctx,
		"INSERT INTO device_states_history (device_id, timestamp, state) VALUES ($1, $2, $3)",
		deviceID, at, state)
	return err
}

// RecentExecutions fetches the latest executed actions, newest first
func (d *DB) RecentExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if d.pool == nil {
		return nil, errors.New("database not connected")
	}
	rows, err := d.pool.Query(ctx,
		"SELECT task_id, prayer, relay, state, executed_at FROM automation_history ORDER BY executed_at DESC, id DESC LIMIT $1",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		var r ExecutionRecord
		if err := rows.Scan(&r.TaskID, &r.Prayer, &r.Relay, &r.State, &r.ExecutedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
