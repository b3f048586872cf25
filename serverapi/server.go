package serverapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/contenox/relay/apiframework"
	"github.com/contenox/relay/historyservice"
	"github.com/contenox/relay/internal/relayapi"
	libbus "github.com/contenox/relay/libbus"
	libdb "github.com/contenox/relay/libdbexec"
	"github.com/contenox/relay/libkvstore"
	libroutine "github.com/contenox/relay/libroutine"
	"github.com/contenox/relay/libtracker"
	"github.com/contenox/relay/relayservice"
	"github.com/contenox/relay/roomcatalog"
)

// New wires the relay stack onto mux: the websocket endpoint, the read-only
// HTTP API, and the service plumbing underneath. The returned cleanup stops
// the dispatcher and drains its history journals.
func New(
	ctx context.Context,
	mux *http.ServeMux,
	nodeInstanceID string,
	tenancy string,
	config *Config,
	dbInstance libdb.DBManager,
	pubsub libbus.Messenger,
	kvManager libkvstore.KVManager,
) (func() error, error) {
	cleanup := func() error { return nil }

	stdOuttracker := libtracker.NewLogActivityTracker(slog.Default())
	serveropsChainedTracker := libtracker.ChainedTracker{stdOuttracker}
	if kvManager != nil {
		serveropsChainedTracker = append(serveropsChainedTracker, libtracker.NewKVActivityTracker(kvManager))
	}

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		apiframework.Error(w, r, apiframework.ErrNotFound, apiframework.ListOperation)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		// OK
	})
	version := apiframework.GetVersion()
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		apiframework.Encode(w, r, http.StatusOK, apiframework.AboutServer{Version: version, NodeInstanceID: nodeInstanceID, Tenancy: tenancy})
	})

	catalog, err := roomcatalog.New(parseRooms(config.Rooms))
	if err != nil {
		return cleanup, fmt.Errorf("build room catalog: %w", err)
	}

	batchCapacity, err := parseSetting("history_batch_capacity", config.HistoryBatchCapacity)
	if err != nil {
		return cleanup, err
	}
	retentionLimit, err := parseSetting("history_retention_limit", config.HistoryRetentionLimit)
	if err != nil {
		return cleanup, err
	}

	historyService := historyservice.New(dbInstance, batchCapacity, retentionLimit)
	historyService = historyservice.WithActivityTracker(historyService, serveropsChainedTracker)

	relayService := relayservice.New(catalog, historyService, pubsub, slog.Default())
	cleanup = func() error { return relayService.Close(context.Background()) }

	relayapi.AddRelayRoutes(mux, relayService, historyService)
	relayapi.AddHistoryRoutes(mux, historyService, catalog)

	// Periodic retention sweep: the dispatcher enforces retention on every
	// append, but a failed inline pass is only logged. The sweep catches up.
	libroutine.GetGroup().StartLoop(
		ctx,
		&libroutine.LoopConfig{
			Key:          "historySweep",
			Threshold:    3,
			ResetTimeout: 10 * time.Second,
			Interval:     time.Minute,
			Operation:    historyService.Sweep,
		},
	)

	// Mirror the dispatcher's event feed into the log. External consumers
	// subscribe to the same subject over NATS.
	eventCh := make(chan []byte, 16)
	sub, err := pubsub.Stream(ctx, relayservice.EventSubject, eventCh)
	if err != nil {
		return cleanup, fmt.Errorf("subscribe to event feed: %w", err)
	}
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-eventCh:
				if !ok {
					return
				}
				var ev relayservice.Event
				if err := json.Unmarshal(data, &ev); err != nil {
					slog.Warn("unparseable relay event", "error", err)
					continue
				}
				slog.Debug("relay event", "type", ev.Type, "user", ev.User, "room", ev.Room)
			}
		}
	}()

	return cleanup, nil
}

// DefaultRooms is the catalog used when no rooms are configured.
const DefaultRooms = "general, random, tech"

func parseRooms(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		raw = DefaultRooms
	}
	return roomcatalog.ParseList(raw)
}

// parseSetting turns an optional numeric env value into an int; empty means
// "use the service default".
func parseSetting(name, value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return n, nil
}

type Config struct {
	DatabaseURL           string `json:"database_url"`
	SQLitePath            string `json:"sqlite_path"`
	Port                  string `json:"port"`
	Addr                  string `json:"addr"`
	NATSURL               string `json:"nats_url"`
	NATSUser              string `json:"nats_user"`
	NATSPassword          string `json:"nats_password"`
	KVAddr                string `json:"kv_addr"`
	KVPassword            string `json:"kv_password"`
	Rooms                 string `json:"rooms"`
	HistoryBatchCapacity  string `json:"history_batch_capacity"`
	HistoryRetentionLimit string `json:"history_retention_limit"`
	LogLevel              string `json:"log_level"`
}

func LoadConfig[T any](cfg *T) error {
	if cfg == nil {
		return fmt.Errorf("config pointer is nil")
	}
	config := map[string]string{}
	for _, kvPair := range os.Environ() {
		ar := strings.SplitN(kvPair, "=", 2)
		if len(ar) < 2 {
			continue
		}
		key := strings.ToLower(ar[0])
		value := ar[1]
		config[key] = value
	}

	b, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal env vars: %w", err)
	}
	err = json.Unmarshal(b, cfg)
	if err != nil {
		return fmt.Errorf("failed to unmarshal into config struct: %w", err)
	}

	return nil
}
