package infrastructure

import (
	"context"

	"pandagate/internal/config"
	"pandagate/internal/repository"
	"pandagate/internal/service"
	transportHTTP "pandagate/internal/transport/http"
	transportNATS "pandagate/internal/transport/nats"
	"pandagate/internal/upstream"
	"pandagate/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the
// application. Returns the App, a cleanup function, or an error.
//
// The upstream client and HTTP boundary always run. The persistence mirror
// (Postgres, Redis, NATS, the recorder, the bus command handler) only runs
// when PANDAGATE_PERSISTENCE_ENABLED=true.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	client := upstream.NewClient(cfg.Upstream)
	sessions := upstream.NewSessionProvider(cfg.Upstream)

	var cleanupFns []func()

	var servers []Server

	if cfg.PersistenceEnabled {
		db, err := connectPostgres(cfg.DSN())
		if err != nil {
			return nil, nil, err
		}
		cleanupFns = append(cleanupFns, db.Close)

		rdb, err := connectRedis(cfg.RedisAddr())
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		cleanupFns = append(cleanupFns, func() { _ = rdb.Close() })

		nc, err := connectNats(cfg.NatsAddr())
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		cleanupFns = append(cleanupFns, nc.Close)

		repo := repository.NewAccountRepo(db, rdb)
		bus := transportNATS.NewBus(nc)

		svc := service.NewProvisionService(client, sessions, repo, bus, cfg.DefaultCredits)

		servers = append(servers,
			worker.NewRecorder(repo, nc),
			transportNATS.NewHandler(svc, nc),
			transportHTTP.NewServer(cfg.ApiAddr(), svc, cfg.AllowedOrigin),
		)
	} else {
		svc := service.NewProvisionService(client, sessions, nil, nil, cfg.DefaultCredits)
		servers = append(servers, transportHTTP.NewServer(cfg.ApiAddr(), svc, cfg.AllowedOrigin))
	}

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
