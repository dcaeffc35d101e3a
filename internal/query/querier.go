// Package query is the read side of the ClickHouse store: it lists uploaded
// batches using the summary columns, so callers can filter sessions cheaply
// without deserializing the record payloads.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"goperf/internal/config"
)

// Upload is one flushed batch row as stored in the remote table, without
// the payload.
type Upload struct {
	UploadKey        uint64    `json:"upload_key"`
	SessionID        string    `json:"session_id"`
	UploadTime       time.Time `json:"upload_time"`
	Hostname         string    `json:"hostname"`
	TotalCalls       uint64    `json:"total_calls"`
	TotalWallSeconds float64   `json:"total_wall_seconds"`
	TotalCPUSeconds  float64   `json:"total_cpu_seconds"`
}

// Querier reads uploaded batches back from ClickHouse.
type Querier struct {
	conn  clickhouse.Conn
	table string
}

// NewQuerier connects to ClickHouse for read-side queries.
func NewQuerier(cfg config.ClickHouseConfig) (*Querier, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return &Querier{conn: conn, table: cfg.Table}, nil
}

// ListUploads returns the uploads for one session (or all sessions when
// sessionID is empty), newest first, capped at limit rows.
func (q *Querier) ListUploads(ctx context.Context, sessionID string, limit int) ([]Upload, error) {
	statement, args := buildListUploadsQuery(q.table, sessionID, limit)

	rows, err := q.conn.Query(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	var uploads []Upload
	for rows.Next() {
		var u Upload
		if err := rows.Scan(&u.UploadKey, &u.SessionID, &u.UploadTime, &u.Hostname, &u.TotalCalls, &u.TotalWallSeconds, &u.TotalCPUSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan upload row: %w", err)
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// buildListUploadsQuery assembles the list statement and its arguments. A
// non-positive limit falls back to 100 rows.
func buildListUploadsQuery(table, sessionID string, limit int) (string, []interface{}) {
	if limit <= 0 {
		limit = 100
	}

	var queryBuilder strings.Builder
	queryBuilder.WriteString(fmt.Sprintf(`
		SELECT UploadKey, SessionID, UploadTime, Hostname, TotalCalls, TotalWallSeconds, TotalCPUSeconds
		FROM %s
	`, table))

	args := []interface{}{}
	if sessionID != "" {
		queryBuilder.WriteString(" WHERE SessionID = ?")
		args = append(args, sessionID)
	}
	queryBuilder.WriteString(" ORDER BY UploadKey DESC LIMIT ?")
	args = append(args, limit)

	return queryBuilder.String(), args
}

// Close releases the connection.
func (q *Querier) Close() error {
	return q.conn.Close()
}
