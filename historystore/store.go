package historystore

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	libdb "github.com/contenox/relay/libdbexec"
	"github.com/stretchr/testify/require"
)

const MAXLIMIT = 1000

var ErrLimitParamExceeded = fmt.Errorf("limit exceeds maximum allowed value")

const (
	// MessageKindChat marks an entry authored by a named user.
	MessageKindChat = "message"
	// MessageKindSystem marks a room notice; system entries carry no sender.
	MessageKindSystem = "system"
)

// StoredMessage is one durable history entry inside a batch.
type StoredMessage struct {
	Kind      string `json:"kind" example:"message"`
	From      string `json:"from,omitempty" example:"alice"`
	Text      string `json:"text" example:"hello everyone"`
	Timestamp int64  `json:"timestamp" example:"1717020800000"`
}

// Batch is a fixed-capacity page of consecutive room entries. Batches are
// append-only until full and are deleted whole, oldest first, so a room's
// history is always a contiguous suffix of everything ever written to it.
// MinTimestamp and MaxTimestamp bound the entries inside; pages of one room
// never overlap in time.
type Batch struct {
	ID           string          `json:"id" example:"b7d9e1a3-8f0c-4a7d-9b1e-2f3a4b5c6d7e"`
	Room         string          `json:"room" example:"general"`
	Seq          int64           `json:"seq" example:"12"`
	MessageCount int             `json:"messageCount" example:"50"`
	MinTimestamp int64           `json:"minTimestamp" example:"1717020800000"`
	MaxTimestamp int64           `json:"maxTimestamp" example:"1717020923000"`
	Messages     []StoredMessage `json:"messages"`

	CreatedAt time.Time `json:"createdAt" example:"2023-11-15T14:30:45Z"`
	UpdatedAt time.Time `json:"updatedAt" example:"2023-11-15T14:30:45Z"`
}

type Store interface {
	CreateBatch(ctx context.Context, batch *Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	UpdateBatch(ctx context.Context, batch *Batch) error
	DeleteBatch(ctx context.Context, id string) error
	DeleteBatches(ctx context.Context, ids ...string) error
	LatestBatch(ctx context.Context, room string) (*Batch, error)
	ListBatches(ctx context.Context, room string, limit int) ([]*Batch, error)
	CountMessages(ctx context.Context, room string) (int64, error)
	ListRooms(ctx context.Context) ([]string, error)
	EstimateBatchCount(ctx context.Context) (int64, error)
}

//go:embed schema.sql
var Schema string

//go:embed schema_sqlite.sql
var SchemaSQLite string

type store struct {
	libdb.Exec
}

func New(exec libdb.Exec) Store {
	if exec == nil {
		panic("SERVER BUG: store.New called with nil exec")
	}
	return &store{exec}
}

// sqliteCountableTables is the whitelist for SELECT COUNT(*) fallback when estimate_row_count is not available (e.g. SQLite).
var sqliteCountableTables = map[string]bool{
	"message_batches": true,
}

func (s *store) estimateCount(ctx context.Context, table string) (int64, error) {
	var count int64
	err := s.Exec.QueryRowContext(ctx, `
		SELECT estimate_row_count($1)
	`, table).Scan(&count)
	if err == nil {
		return count, nil
	}
	// SQLite has no estimate_row_count; fall back to COUNT(*) for whitelisted tables only.
	if !strings.Contains(err.Error(), "no such function") {
		return 0, err
	}
	if !sqliteCountableTables[table] {
		return 0, err
	}
	err = s.Exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count)
	return count, err
}

func quiet() func() {
	null, _ := os.Open(os.DevNull)
	sout := os.Stdout
	serr := os.Stderr
	os.Stdout = null
	os.Stderr = null
	log.SetOutput(null)
	return func() {
		defer null.Close()
		os.Stdout = sout
		os.Stderr = serr
		log.SetOutput(os.Stderr)
	}
}

// SetupStore initializes a test Postgres instance and returns the store.
func SetupStore(t *testing.T) (context.Context, Store) {
	t.Helper()

	// Silence logs
	unquiet := quiet()
	t.Cleanup(unquiet)

	ctx := context.TODO()
	connStr, _, cleanup, err := libdb.SetupLocalInstance(ctx, "test", "test", "test")
	require.NoError(t, err)

	dbManager, err := libdb.NewPostgresDBManager(ctx, connStr, Schema)
	require.NoError(t, err)

	// Cleanup DB and container
	t.Cleanup(func() {
		require.NoError(t, dbManager.Close())
		cleanup()
	})

	s := New(dbManager.WithoutTransaction())
	return ctx, s
}
