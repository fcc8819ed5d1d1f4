package main

import (
	"context"
	"fmt"
	"log/slog"

	"classauth/internal/audit"
	"classauth/internal/authz/credentials"
	"classauth/internal/authz/service"
	"classauth/internal/authz/store/bolt"
	"classauth/internal/authz/store/memory"
	pgstore "classauth/internal/authz/store/postgres"
	redisstore "classauth/internal/authz/store/redis"
	"classauth/internal/platform/config"
	"classauth/internal/platform/postgres"
	"classauth/internal/platform/redis"
	"classauth/internal/platform/sealer"
)

// dependencies owns the external resources opened at startup.
type dependencies struct {
	closers []func(context.Context) error
	checks  map[string]func(context.Context) error
}

func (d *dependencies) onClose(fn func(context.Context) error) {
	d.closers = append(d.closers, fn)
}

func (d *dependencies) check(name string, fn func(context.Context) error) {
	if d.checks == nil {
		d.checks = map[string]func(context.Context) error{}
	}
	d.checks[name] = fn
}

// close releases resources in reverse order of acquisition.
func (d *dependencies) close(log *slog.Logger) {
	ctx := context.Background()
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			log.Warn("close dependency", "error", err)
		}
	}
}

func (d *dependencies) openBackend(ctx context.Context, cfg config.Config) (credentials.Backend, error) {
	if cfg.Store.Backend == config.BackendMemory {
		return memory.New(), nil
	}

	seal, err := sealer.New([]byte(cfg.Store.SealingKey))
	if err != nil {
		return nil, fmt.Errorf("credential sealing key: %w", err)
	}

	switch cfg.Store.Backend {
	case config.BackendBolt:
		s, err := bolt.Open(cfg.Store.BoltPath, bolt.WithSealer(seal))
		if err != nil {
			return nil, err
		}
		d.onClose(func(context.Context) error { return s.Close() })
		return s, nil
	case config.BackendRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		d.onClose(func(context.Context) error { return client.Close() })
		d.check("redis", client.Health)
		return redisstore.New(client.Client, redisstore.WithSealer(seal)), nil
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		d.onClose(func(context.Context) error { return db.Close() })
		d.check("postgres", db.PingContext)
		s := pgstore.New(db, pgstore.WithSealer(seal))
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown credential store %q", cfg.Store.Backend)
	}
}

func (d *dependencies) openAudit(ctx context.Context, cfg config.Config, log *slog.Logger) (service.AuditPublisher, error) {
	if cfg.Audit.Sink != config.AuditSinkKafka {
		return audit.NewLogPublisher(log), nil
	}
	pub, err := audit.NewKafkaPublisher(cfg.Audit.Brokers, cfg.Audit.Topic, audit.WithKafkaLogger(log))
	if err != nil {
		return nil, err
	}
	d.onClose(pub.Close)
	d.check("kafka", pub.Ping)
	if err := pub.EnsureTopic(ctx, 1, 1); err != nil {
		// Brokers with auto-create enabled still accept the produce.
		log.Warn("could not ensure audit topic", "topic", cfg.Audit.Topic, "error", err)
	}
	return pub, nil
}
