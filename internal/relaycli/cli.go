// cli.go holds the relay CLI entrypoint (Main), the command tree, and flags.
package relaycli

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

const (
	defaultPort            = "8080"
	defaultSQLitePath      = ".relay/relay.db"
	defaultShutdownTimeout = 10 * time.Second
)

// Main runs the relay CLI. With no arguments it behaves like "relay serve".
func Main() {
	args := os.Args[1:]
	if len(args) == 0 {
		rootCmd.SetArgs([]string{"serve"})
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Multi-room message relay: a websocket chat server with durable room history.",
	Long: `Relay is a multi-room message server. Clients connect over a websocket,
claim a username, join one of the configured rooms, and exchange messages;
every room keeps a bounded, durable history that joiners receive as a
snapshot.

  Quickstart:
    relay                             # serve on :8080 with a local SQLite store
    relay rooms                       # list rooms with persisted history
    relay history general --limit 20  # dump the newest retained entries

  Storage is SQLite by default (.relay/relay.db). Set DATABASE_URL for
  Postgres, NATS_URL to publish lifecycle events to NATS, and KV_ADDR to
  record operation activity in Valkey. A .relay/config.yaml next to the
  working directory (or in your home directory) can hold the same settings.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay server (default when no subcommand is given).",
	Long:  `Start the websocket relay and its HTTP API. Settings come from flags, environment variables, and .relay/config.yaml, in that order of precedence.`,
	RunE:  runServe,
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List rooms that have persisted history, straight from the store.",
	RunE:  runRooms,
}

var historyCmd = &cobra.Command{
	Use:   "history <room>",
	Short: "Dump a room's retained history, oldest first.",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version.",
	RunE:  runVersion,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("db", "", "Postgres connection string (overrides DATABASE_URL)")
	pf.String("sqlite", "", "SQLite database path used when no Postgres URL is set (default: "+defaultSQLitePath+")")
	pf.Bool("trace", false, "Log activity spans for store operations")

	sf := serveCmd.Flags()
	sf.String("addr", "", "Listen address (default: all interfaces)")
	sf.String("port", defaultPort, "Listen port")
	sf.String("rooms", "", "Comma-separated room catalog (overrides ROOMS)")
	sf.String("nats", "", "NATS server URL for the event feed (overrides NATS_URL)")
	sf.String("kv", "", "Valkey address for activity tracking (overrides KV_ADDR)")

	historyCmd.Flags().Int("limit", 0, "Return at most this many of the newest entries (0 = everything retained)")

	rootCmd.AddCommand(serveCmd, roomsCmd, historyCmd, versionCmd)
}

// Sentinel error so RunE can return and Main can os.Exit(1) without a second
// error print from cobra.
type exitError struct{ code int }

func (e *exitError) Error() string { return "exit" }

var errStartupFailed = &exitError{1}
