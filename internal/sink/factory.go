package sink

import (
	"fmt"

	"goperf/internal/config"
	"goperf/internal/model"
)

// FromConfig builds the sink selected by the storage configuration.
func FromConfig(cfg config.StorageConfig) (model.Sink, error) {
	switch cfg.Type {
	case "local":
		return NewLocalSink(cfg.Local)
	case "clickhouse":
		return NewClickHouseSink(cfg.ClickHouse)
	case "nats":
		return NewStreamSink(cfg.NATS)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
