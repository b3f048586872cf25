// history_cmd.go implements the read-only store subcommands: rooms, history,
// and version. They open the same storage the server uses, no server needed.
package relaycli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/contenox/relay/apiframework"
	"github.com/contenox/relay/historyservice"
	"github.com/contenox/relay/historystore"
	"github.com/contenox/relay/libtracker"
	"github.com/spf13/cobra"
)

func openHistory(cmd *cobra.Command) (historyservice.Service, func() error, error) {
	config, err := resolveConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	dbInstance, err := initDatabase(cmd.Context(), config)
	if err != nil {
		return nil, nil, err
	}
	var tracker libtracker.ActivityTracker = libtracker.NoopTracker{}
	if traced, _ := cmd.Root().PersistentFlags().GetBool("trace"); traced {
		tracker = libtracker.NewLogActivityTracker(slog.Default())
	}
	history := historyservice.WithActivityTracker(historyservice.New(dbInstance, 0, 0), tracker)
	return history, dbInstance.Close, nil
}

func runRooms(cmd *cobra.Command, _ []string) error {
	history, closeStore, err := openHistory(cmd)
	if err != nil {
		slog.Error("opening store failed", "error", err)
		return errStartupFailed
	}
	defer closeStore()

	ctx := libtracker.WithNewRequestID(cmd.Context())
	rooms, err := history.ListRooms(ctx)
	if err != nil {
		slog.Error("listing rooms failed", "error", err)
		return errStartupFailed
	}
	if len(rooms) == 0 {
		fmt.Println("No rooms with persisted history.")
		return nil
	}
	for _, room := range rooms {
		count, err := history.CountMessages(ctx, room)
		if err != nil {
			slog.Error("counting entries failed", "room", room, "error", err)
			return errStartupFailed
		}
		fmt.Printf("%s\t%d entries\n", room, count)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	room := args[0]
	limit, _ := cmd.Flags().GetInt("limit")

	history, closeStore, err := openHistory(cmd)
	if err != nil {
		slog.Error("opening store failed", "error", err)
		return errStartupFailed
	}
	defer closeStore()

	entries, err := history.Tail(libtracker.WithNewRequestID(cmd.Context()), room, limit)
	if err != nil {
		slog.Error("reading history failed", "room", room, "error", err)
		return errStartupFailed
	}
	if len(entries) == 0 {
		fmt.Printf("No history for %s.\n", room)
		return nil
	}
	for _, entry := range entries {
		fmt.Println(formatEntry(entry))
	}
	return nil
}

// formatEntry renders one history entry the way a chat log reads: system
// notices with an asterisk, chat lines with the sender in angle brackets.
func formatEntry(entry historystore.StoredMessage) string {
	ts := time.UnixMilli(entry.Timestamp).Format("2006-01-02 15:04:05")
	if entry.Kind == historystore.MessageKindSystem {
		return fmt.Sprintf("%s  * %s", ts, entry.Text)
	}
	return fmt.Sprintf("%s  <%s> %s", ts, entry.From, entry.Text)
}

func runVersion(_ *cobra.Command, _ []string) error {
	fmt.Println(apiframework.GetVersion())
	return nil
}
