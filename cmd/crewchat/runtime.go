package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/namikmesic/crewchat/internal/chat"
	"github.com/namikmesic/crewchat/internal/jetstream"
	"github.com/namikmesic/crewchat/internal/processor"
	"github.com/namikmesic/crewchat/internal/session"
	"github.com/namikmesic/crewchat/internal/storage"
)

// runtime is the controller of an interactive command plus the optional
// stream archive behind it.
type runtime struct {
	ctrl    *chat.Controller
	archive *archive
}

func newRuntime(ctx context.Context) (*runtime, error) {
	rt := &runtime{}
	opts := []chat.Option{chat.WithGrace(cfg.NoticeGrace)}

	if cfg.ArchiveEnabled() {
		a, err := openArchive(ctx)
		if err != nil {
			return nil, err
		}
		rt.archive = a
		opts = append(opts, chat.WithStreamer(session.New(client, session.WithRecorder(a.recorder))))
	}

	rt.ctrl = chat.NewController(client, opts...)
	return rt, nil
}

func (rt *runtime) Close() {
	rt.ctrl.Close()
	if rt.archive != nil {
		rt.archive.Close()
	}
}

// archive records every raw completion stream to JetStream and decodes
// it into Postgres rows.
type archive struct {
	pool       *pgxpool.Pool
	natsServer *jetstream.Server
	nc         *nats.Conn
	sub        *nats.Subscription
	writer     *storage.BatchWriter
	recorder   *processor.Recorder
}

func openArchive(ctx context.Context) (*archive, error) {
	a := &archive{}
	opened := false
	defer func() {
		if !opened {
			a.Close()
		}
	}()

	var err error
	a.pool, err = storage.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err = storage.RunMigrations(ctx, a.pool); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a.natsServer, err = jetstream.NewServer(cfg.NATSStoreDir)
	if err != nil {
		return nil, fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	var js nats.JetStreamContext
	a.nc, js, err = a.natsServer.Open()
	if err != nil {
		return nil, err
	}

	a.writer = storage.NewBatchWriter(a.pool, cfg.WriterBufferSize, cfg.WriterBatchSize, cfg.WriterFlushMs)
	a.sub, err = processor.New(a.writer).StartConsumer(js)
	if err != nil {
		return nil, fmt.Errorf("failed to start archive consumer: %w", err)
	}
	a.recorder = processor.NewRecorder(js)
	opened = true

	log.Info().Str("store_dir", cfg.NATSStoreDir).Msg("stream archive enabled")
	return a, nil
}

func (a *archive) Close() {
	if a.sub != nil {
		if err := a.sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Msg("archive unsubscribe")
		}
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			log.Debug().Err(err).Msg("archive drain")
		}
	}
	if a.natsServer != nil {
		a.natsServer.Shutdown()
	}
	if a.writer != nil {
		a.writer.Shutdown()
		if n := a.writer.Dropped(); n > 0 {
			log.Warn().Int64("dropped", n).Msg("archive jobs dropped")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
