package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"goperf/internal/config"
	"goperf/internal/model"
)

const createTableTemplate = `
CREATE TABLE IF NOT EXISTS %s (
    UploadKey        UInt64,
    SessionID        String,
    UploadTime       DateTime64(9),
    Hostname         String,
    Payload          String,
    TotalCalls       UInt64,
    TotalWallSeconds Float64,
    TotalCPUSeconds  Float64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(UploadTime)
ORDER BY (SessionID, UploadKey);
`

// ClickHouse server exception codes used for error classification.
const (
	chCodeTypeMismatch         = 53
	chCodeTableAlreadyExists   = 57
	chCodeUnknownTable         = 60
	chCodeUnknownDatabase      = 81
	chCodeNoSuchColumn         = 16
	chCodeUnknownUser          = 192
	chCodeWrongPassword        = 193
	chCodeAccessDenied         = 497
	chCodeAuthenticationFailed = 516
)

// ClickHouseSink pushes one aggregated row per flush to a ClickHouse table.
// Rows are keyed by a monotonically increasing identifier derived from the
// upload timestamp so repeated flushes within a session never collide.
type ClickHouseSink struct {
	conn  driver.Conn
	table string

	mu      sync.Mutex
	lastKey uint64
}

// NewClickHouseSink connects to ClickHouse and, when auto-provisioning is
// enabled, ensures the destination table exists. A concurrent create by
// another process is tolerated: "already exists" counts as success.
func NewClickHouseSink(cfg config.ClickHouseConfig) (*ClickHouseSink, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	s := &ClickHouseSink{conn: conn, table: cfg.Table}
	if cfg.AutoCreate {
		if err := s.ensureTable(context.Background()); err != nil {
			return nil, err
		}
		log.Printf("Successfully connected to ClickHouse and ensured table %s exists.", cfg.Table)
	}
	return s, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: false,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return conn, nil
}

func (s *ClickHouseSink) ensureTable(ctx context.Context) error {
	err := s.conn.Exec(ctx, fmt.Sprintf(createTableTemplate, s.table))
	if err == nil {
		return nil
	}
	var ex *clickhouse.Exception
	if errors.As(err, &ex) && ex.Code == chCodeTableAlreadyExists {
		return nil
	}
	return fmt.Errorf("failed to create table %s: %w", s.table, err)
}

// Write inserts the batch as a single keyed row. The full record set is
// carried as a JSON payload next to the summary columns.
func (s *ClickHouseSink) Write(ctx context.Context, batch *model.Batch) error {
	payload, err := json.Marshal(batch.Records)
	if err != nil {
		return model.Permanent(fmt.Errorf("failed to marshal records payload: %w", err))
	}

	prepared, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", s.table))
	if err != nil {
		return classify(fmt.Errorf("failed to prepare batch: %w", err))
	}

	err = prepared.Append(
		s.nextKey(batch),
		batch.SessionID,
		batch.UploadTime,
		batch.Hostname,
		string(payload),
		uint64(batch.TotalCalls),
		batch.TotalWallSeconds,
		batch.TotalCPUSeconds,
	)
	if err != nil {
		return classify(fmt.Errorf("failed to append upload row: %w", err))
	}

	if err := prepared.Send(); err != nil {
		return classify(fmt.Errorf("failed to send batch: %w", err))
	}

	log.Printf("Wrote batch of %d records to ClickHouse table %s for session %s", batch.TotalCalls, s.table, batch.SessionID)
	return nil
}

// nextKey derives the upload key from the batch timestamp in nanoseconds,
// bumped when two flushes land within the same nanosecond reading.
func (s *ClickHouseSink) nextKey(batch *model.Batch) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := uint64(batch.UploadTime.UnixNano())
	if key <= s.lastKey {
		key = s.lastKey + 1
	}
	s.lastKey = key
	return key
}

// Close releases the connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}

// classify maps a ClickHouse error to the delivery error taxonomy. Schema
// and permission failures are permanent; everything else (timeouts,
// throttling, network failures) is worth retrying.
func classify(err error) error {
	var ex *clickhouse.Exception
	if errors.As(err, &ex) {
		switch ex.Code {
		case chCodeTypeMismatch,
			chCodeUnknownTable,
			chCodeUnknownDatabase,
			chCodeNoSuchColumn,
			chCodeUnknownUser,
			chCodeWrongPassword,
			chCodeAccessDenied,
			chCodeAuthenticationFailed:
			return model.Permanent(err)
		}
	}
	return model.Transient(err)
}
