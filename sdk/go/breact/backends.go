package breact

import (
	"context"

	"BReact-SDK/pkg/config"
	xerrors "BReact-SDK/pkg/errors"
	"BReact-SDK/pkg/events"
	"BReact-SDK/pkg/journal"
)

// openJournal builds the journal selected by cfg. The "none" driver
// returns a nil store.
func openJournal(ctx context.Context, cfg config.JournalConfig) (journal.Store, error) {
	switch cfg.Driver {
	case "none":
		return nil, nil
	case "", "memory":
		return journal.NewMemoryStore(
			journal.WithMaxEntries(cfg.MaxEntries),
			journal.WithTTL(cfg.TTL.Std()),
		), nil
	case "redis":
		return journal.NewRedisStore(ctx, journal.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Key,
			TTL:      cfg.Redis.TTL.Std(),
		})
	case "mysql":
		return journal.OpenSQLStore(ctx, journal.DialectMySQL, cfg.DSN)
	case "postgres":
		return journal.OpenSQLStore(ctx, journal.DialectPostgres, cfg.DSN)
	default:
		return nil, xerrors.Newf(xerrors.CodeConfiguration, "unknown journal driver %q", cfg.Driver)
	}
}

// openPublisher builds the event publisher selected by cfg.
func openPublisher(ctx context.Context, cfg config.EventsConfig) (events.Publisher, error) {
	switch cfg.Driver {
	case "", "none":
		return events.NopPublisher{}, nil
	case "memory":
		return events.NewMemoryPublisher(cfg.Buffer), nil
	case "redis":
		return events.NewRedisPublisher(ctx, events.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
	case "rabbitmq":
		return events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:     cfg.RabbitMQ.URL,
			Queue:   cfg.RabbitMQ.Queue,
			Durable: cfg.RabbitMQ.Durable,
		})
	default:
		return nil, xerrors.Newf(xerrors.CodeConfiguration, "unknown events driver %q", cfg.Driver)
	}
}
