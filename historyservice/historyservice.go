package historyservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/contenox/relay/historystore"
	libdb "github.com/contenox/relay/libdbexec"
)

const (
	// DefaultBatchCapacity is the number of entries a batch accepts before
	// the next append opens a fresh one.
	DefaultBatchCapacity = 50
	// DefaultRetentionLimit is the ceiling on retained entries per room.
	// Crossing it drops whole batches, oldest first, so a room keeps
	// between ceiling-capacity+1 and ceiling entries.
	DefaultRetentionLimit = 100
)

type Service interface {
	Append(ctx context.Context, room string, msg historystore.StoredMessage) error
	Sweep(ctx context.Context) error
	History(ctx context.Context, room string) ([]historystore.StoredMessage, error)
	Tail(ctx context.Context, room string, limit int) ([]historystore.StoredMessage, error)
	CountMessages(ctx context.Context, room string) (int64, error)
	ListRooms(ctx context.Context) ([]string, error)
	EstimateBatchCount(ctx context.Context) (int64, error)
}

type service struct {
	dbInstance     libdb.DBManager
	batchCapacity  int
	retentionLimit int
}

// New builds the history service. Non-positive sizes fall back to the
// defaults; a retention limit below the batch capacity is raised to it,
// since whole-batch deletion cannot hold a room under one batch's worth.
func New(db libdb.DBManager, batchCapacity, retentionLimit int) Service {
	if batchCapacity <= 0 {
		batchCapacity = DefaultBatchCapacity
	}
	if retentionLimit <= 0 {
		retentionLimit = DefaultRetentionLimit
	}
	if retentionLimit < batchCapacity {
		retentionLimit = batchCapacity
	}
	return &service{
		dbInstance:     db,
		batchCapacity:  batchCapacity,
		retentionLimit: retentionLimit,
	}
}

// Append writes one entry to the room's newest batch, opening a new batch
// when the newest is full, then enforces the retention ceiling. Appends to
// the same room must be serialized by the caller; the relay's per-room
// journal workers guarantee that.
func (s *service) Append(ctx context.Context, room string, msg historystore.StoredMessage) error {
	tx := s.dbInstance.WithoutTransaction()
	storeInstance := historystore.New(tx)

	latest, err := storeInstance.LatestBatch(ctx, room)
	switch {
	case errors.Is(err, libdb.ErrNotFound):
		err = storeInstance.CreateBatch(ctx, &historystore.Batch{
			Room:     room,
			Seq:      0,
			Messages: []historystore.StoredMessage{msg},
		})
	case err != nil:
		return fmt.Errorf("failed to load newest batch: %w", err)
	case latest.MessageCount >= s.batchCapacity:
		err = storeInstance.CreateBatch(ctx, &historystore.Batch{
			Room:     room,
			Seq:      latest.Seq + 1,
			Messages: []historystore.StoredMessage{msg},
		})
	default:
		latest.Messages = append(latest.Messages, msg)
		err = storeInstance.UpdateBatch(ctx, latest)
	}
	if err != nil {
		return err
	}

	return s.enforceRetention(ctx, storeInstance, room)
}

func (s *service) enforceRetention(ctx context.Context, storeInstance historystore.Store, room string) error {
	count, err := storeInstance.CountMessages(ctx, room)
	if err != nil {
		return err
	}
	if count <= int64(s.retentionLimit) {
		return nil
	}

	batches, err := storeInstance.ListBatches(ctx, room, historystore.MAXLIMIT)
	if err != nil {
		return err
	}

	// Drop whole pages from the oldest end; the newest batch is never
	// deleted, it is the one still accepting appends.
	var drop []string
	for _, batch := range batches[:len(batches)-1] {
		if count <= int64(s.retentionLimit) {
			break
		}
		drop = append(drop, batch.ID)
		count -= int64(batch.MessageCount)
	}
	if len(drop) == 0 {
		return nil
	}

	// A concurrent retention pass may have removed the same pages already.
	if err := storeInstance.DeleteBatches(ctx, drop...); err != nil && !errors.Is(err, libdb.ErrNotFound) {
		return err
	}
	return nil
}

// Sweep enforces the retention ceiling across every room with history. The
// append path already enforces retention inline; the sweep catches rooms
// whose inline pass failed and was only logged.
func (s *service) Sweep(ctx context.Context) error {
	tx := s.dbInstance.WithoutTransaction()
	storeInstance := historystore.New(tx)

	rooms, err := storeInstance.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rooms: %w", err)
	}
	for _, room := range rooms {
		if err := s.enforceRetention(ctx, storeInstance, room); err != nil {
			return fmt.Errorf("retention sweep for %q: %w", room, err)
		}
	}
	return nil
}

// History returns every retained entry for the room in arrival order. A
// room nobody has written to yields an empty slice, not an error.
func (s *service) History(ctx context.Context, room string) ([]historystore.StoredMessage, error) {
	tx := s.dbInstance.WithoutTransaction()
	batches, err := historystore.New(tx).ListBatches(ctx, room, historystore.MAXLIMIT)
	if err != nil {
		return nil, err
	}

	messages := []historystore.StoredMessage{}
	for _, batch := range batches {
		messages = append(messages, batch.Messages...)
	}

	// A retention pass can lag one append behind; never surface more than
	// the ceiling.
	if len(messages) > s.retentionLimit {
		messages = messages[len(messages)-s.retentionLimit:]
	}
	return messages, nil
}

// Tail returns the newest limit entries in arrival order. A non-positive
// limit means no cap and behaves like History.
func (s *service) Tail(ctx context.Context, room string, limit int) ([]historystore.StoredMessage, error) {
	if limit > historystore.MAXLIMIT {
		return nil, historystore.ErrLimitParamExceeded
	}
	messages, err := s.History(ctx, room)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

func (s *service) CountMessages(ctx context.Context, room string) (int64, error) {
	tx := s.dbInstance.WithoutTransaction()
	return historystore.New(tx).CountMessages(ctx, room)
}

func (s *service) ListRooms(ctx context.Context) ([]string, error) {
	tx := s.dbInstance.WithoutTransaction()
	return historystore.New(tx).ListRooms(ctx)
}

func (s *service) EstimateBatchCount(ctx context.Context) (int64, error) {
	tx := s.dbInstance.WithoutTransaction()
	return historystore.New(tx).EstimateBatchCount(ctx)
}
