package historyservice

import (
	"context"
	"fmt"

	"github.com/contenox/relay/historystore"
	"github.com/contenox/relay/libtracker"
)

type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) Append(ctx context.Context, room string, msg historystore.StoredMessage) error {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"append",
		"history",
		"room", room,
		"kind", msg.Kind,
	)
	defer endFn()

	err := d.service.Append(ctx, room, msg)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(room, map[string]interface{}{
			"kind":      msg.Kind,
			"timestamp": msg.Timestamp,
		})
	}

	return err
}

func (d *activityTrackerDecorator) Sweep(ctx context.Context) error {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"sweep",
		"history",
	)
	defer endFn()

	err := d.service.Sweep(ctx)
	if err != nil {
		reportErrFn(err)
	}

	return err
}

func (d *activityTrackerDecorator) History(ctx context.Context, room string) ([]historystore.StoredMessage, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"read",
		"history",
		"room", room,
	)
	defer endFn()

	messages, err := d.service.History(ctx, room)
	if err != nil {
		reportErrFn(err)
	}

	return messages, err
}

func (d *activityTrackerDecorator) Tail(ctx context.Context, room string, limit int) ([]historystore.StoredMessage, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"read",
		"history",
		"room", room,
		"limit", fmt.Sprintf("%d", limit),
	)
	defer endFn()

	messages, err := d.service.Tail(ctx, room, limit)
	if err != nil {
		reportErrFn(err)
	}

	return messages, err
}

func (d *activityTrackerDecorator) CountMessages(ctx context.Context, room string) (int64, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"count",
		"history",
		"room", room,
	)
	defer endFn()

	count, err := d.service.CountMessages(ctx, room)
	if err != nil {
		reportErrFn(err)
	}

	return count, err
}

func (d *activityTrackerDecorator) ListRooms(ctx context.Context) ([]string, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"list",
		"history-rooms",
	)
	defer endFn()

	rooms, err := d.service.ListRooms(ctx)
	if err != nil {
		reportErrFn(err)
	}

	return rooms, err
}

func (d *activityTrackerDecorator) EstimateBatchCount(ctx context.Context) (int64, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"count",
		"history-batches",
	)
	defer endFn()

	count, err := d.service.EstimateBatchCount(ctx)
	if err != nil {
		reportErrFn(err)
	}

	return count, err
}

func WithActivityTracker(service Service, tracker libtracker.ActivityTracker) Service {
	return &activityTrackerDecorator{
		service: service,
		tracker: tracker,
	}
}

var _ Service = (*activityTrackerDecorator)(nil)
