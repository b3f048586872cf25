package historystore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	libdb "github.com/contenox/relay/libdbexec"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

func (s *store) CreateBatch(ctx context.Context, batch *Batch) error {
	now := time.Now().UTC()
	batch.CreatedAt = now
	batch.UpdatedAt = now
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.Messages == nil {
		batch.Messages = []StoredMessage{}
	}
	batch.MessageCount = len(batch.Messages)
	batch.MinTimestamp, batch.MaxTimestamp = timestampBounds(batch.Messages)

	payload, err := json.Marshal(batch.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	_, err = s.Exec.ExecContext(ctx, `
		INSERT INTO message_batches
		(id, room, seq, message_count, min_timestamp, max_timestamp, messages, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		batch.ID,
		batch.Room,
		batch.Seq,
		batch.MessageCount,
		batch.MinTimestamp,
		batch.MaxTimestamp,
		payload,
		batch.CreatedAt,
		batch.UpdatedAt,
	)
	return err
}

func timestampBounds(messages []StoredMessage) (int64, int64) {
	if len(messages) == 0 {
		return 0, 0
	}
	minTS, maxTS := messages[0].Timestamp, messages[0].Timestamp
	for _, msg := range messages[1:] {
		if msg.Timestamp < minTS {
			minTS = msg.Timestamp
		}
		if msg.Timestamp > maxTS {
			maxTS = msg.Timestamp
		}
	}
	return minTS, maxTS
}

func (s *store) GetBatch(ctx context.Context, id string) (*Batch, error) {
	var batch Batch
	var payload []byte
	err := s.Exec.QueryRowContext(ctx, `
		SELECT id, room, seq, message_count, min_timestamp, max_timestamp, messages, created_at, updated_at
		FROM message_batches
		WHERE id = $1`,
		id,
	).Scan(
		&batch.ID,
		&batch.Room,
		&batch.Seq,
		&batch.MessageCount,
		&batch.MinTimestamp,
		&batch.MaxTimestamp,
		&payload,
		&batch.CreatedAt,
		&batch.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, libdb.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &batch.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return &batch, nil
}

func (s *store) UpdateBatch(ctx context.Context, batch *Batch) error {
	batch.UpdatedAt = time.Now().UTC()
	batch.MessageCount = len(batch.Messages)
	batch.MinTimestamp, batch.MaxTimestamp = timestampBounds(batch.Messages)

	payload, err := json.Marshal(batch.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	result, err := s.Exec.ExecContext(ctx, `
		UPDATE message_batches
		SET message_count = $2,
			min_timestamp = $3,
			max_timestamp = $4,
			messages = $5,
			updated_at = $6
		WHERE id = $1`,
		batch.ID,
		batch.MessageCount,
		batch.MinTimestamp,
		batch.MaxTimestamp,
		payload,
		batch.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}

	return checkRowsAffected(result)
}

func (s *store) DeleteBatch(ctx context.Context, id string) error {
	result, err := s.Exec.ExecContext(ctx, `
		DELETE FROM message_batches
		WHERE id = $1`,
		id,
	)

	if err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}

	return checkRowsAffected(result)
}

func (s *store) DeleteBatches(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, id)
	}

	result, err := s.Exec.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM message_batches
		WHERE id IN (%s)`, strings.Join(placeholders, ", ")),
		args...,
	)

	if err != nil {
		return fmt.Errorf("failed to delete batches: %w", err)
	}

	return checkRowsAffected(result)
}

// LatestBatch returns the batch with the highest sequence number for the
// room, the only one that may still accept appends.
func (s *store) LatestBatch(ctx context.Context, room string) (*Batch, error) {
	var batch Batch
	var payload []byte
	err := s.Exec.QueryRowContext(ctx, `
		SELECT id, room, seq, message_count, min_timestamp, max_timestamp, messages, created_at, updated_at
		FROM message_batches
		WHERE room = $1
		ORDER BY seq DESC
		LIMIT 1`,
		room,
	).Scan(
		&batch.ID,
		&batch.Room,
		&batch.Seq,
		&batch.MessageCount,
		&batch.MinTimestamp,
		&batch.MaxTimestamp,
		&payload,
		&batch.CreatedAt,
		&batch.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, libdb.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &batch.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return &batch, nil
}

// ListBatches returns the room's batches oldest first, so concatenating
// their messages yields the room history in arrival order.
func (s *store) ListBatches(ctx context.Context, room string, limit int) ([]*Batch, error) {
	if limit > MAXLIMIT {
		return nil, ErrLimitParamExceeded
	}
	rows, err := s.Exec.QueryContext(ctx, `
        SELECT id, room, seq, message_count, min_timestamp, max_timestamp, messages, created_at, updated_at
        FROM message_batches
        WHERE room = $1
        ORDER BY seq ASC
        LIMIT $2;
    `, room, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	batches := []*Batch{}
	for rows.Next() {
		var batch Batch
		var payload []byte
		if err := rows.Scan(
			&batch.ID,
			&batch.Room,
			&batch.Seq,
			&batch.MessageCount,
			&batch.MinTimestamp,
			&batch.MaxTimestamp,
			&payload,
			&batch.CreatedAt,
			&batch.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		if err := json.Unmarshal(payload, &batch.Messages); err != nil {
			return nil, fmt.Errorf("failed to decode messages: %w", err)
		}
		batches = append(batches, &batch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return batches, nil
}

func (s *store) CountMessages(ctx context.Context, room string) (int64, error) {
	var count int64
	err := s.Exec.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(message_count), 0)
		FROM message_batches
		WHERE room = $1`,
		room,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (s *store) ListRooms(ctx context.Context) ([]string, error) {
	rows, err := s.Exec.QueryContext(ctx, `
        SELECT DISTINCT room
        FROM message_batches
        ORDER BY room ASC;
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()

	rooms := []string{}
	for rows.Next() {
		var room string
		if err := rows.Scan(&room); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, room)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rooms, nil
}

func checkRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return libdb.ErrNotFound
	}
	return nil
}

func (s *store) EstimateBatchCount(ctx context.Context) (int64, error) {
	return s.estimateCount(ctx, "message_batches")
}
