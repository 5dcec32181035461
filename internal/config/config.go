package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ServerURL      string        `env:"CREW_SERVER_URL" envDefault:"http://localhost:8080"`
	APIKey         string        `env:"CREW_API_KEY"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	RequestTimeout time.Duration `env:"CREW_REQUEST_TIMEOUT" envDefault:"30s"`
	NoticeGrace    time.Duration `env:"CREW_NOTICE_GRACE" envDefault:"3s"`
	PollInterval   time.Duration `env:"CREW_POLL_INTERVAL" envDefault:"2s"`
	ViewerEnabled  bool          `env:"CREW_VIEWER_ENABLED" envDefault:"false"`
	ViewerAddr     string        `env:"CREW_VIEWER_ADDR" envDefault:"127.0.0.1:8091"`
	ExportDir      string        `env:"CREW_EXPORT_DIR" envDefault:"."`
	TermWidth      int           `env:"CREW_TERM_WIDTH" envDefault:"100"`

	// Archive; disabled while DatabaseURL is empty.
	DatabaseURL      string `env:"DATABASE_URL"`
	NATSStoreDir     string `env:"NATS_STORE_DIR" envDefault:"./data/nats"`
	WriterBufferSize int    `env:"WRITER_BUFFER_SIZE" envDefault:"10000"`
	WriterBatchSize  int    `env:"WRITER_BATCH_SIZE" envDefault:"100"`
	WriterFlushMs    int    `env:"WRITER_FLUSH_MS" envDefault:"100"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ArchiveEnabled reports whether raw streams are recorded to the database.
func (c *Config) ArchiveEnabled() bool {
	return c.DatabaseURL != ""
}
