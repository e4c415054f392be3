package cli

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"party-session-service/internal/app"
	"party-session-service/internal/config"
	"party-session-service/internal/domain"
	"party-session-service/internal/infra/memory"
	"party-session-service/internal/infra/postgres"
	infraredis "party-session-service/internal/infra/redis"
	transport "party-session-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the party session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var loader memory.ItemLoader = memory.NewStaticItemLoader(sampleItemSets())
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = postgres.NewItemLoader(pool)
	}

	itemTTL := config.TTLDuration(cfg.Items.TTL, 10*time.Minute)
	var items app.ItemRepository
	if redisClient != nil {
		items = infraredis.NewItemRepository(redisClient, loader, itemTTL)
	} else {
		items = memory.NewItemRepository(loader, itemTTL)
	}

	var store app.PartyStore
	if cfg.Postgres.URL != "" {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		db := bun.NewDB(sqldb, pgdialect.New())
		defer db.Close()
		var opts []postgres.StoreOption
		if redisClient != nil {
			opts = append(opts, postgres.WithCodeCache(infraredis.NewCodeIndex(redisClient, redisTTL)))
		}
		store = postgres.NewPartyStore(db, opts...)
	} else {
		store = memory.NewPartyStore()
	}

	settings := app.Settings{
		InactivityThreshold: config.TTLDuration(cfg.Party.InactivityThreshold, 30*time.Second),
		SnapshotTTL:         config.TTLDuration(cfg.Party.SnapshotTTL, time.Second),
		TouchThrottle:       config.TTLDuration(cfg.Party.TouchThrottle, 5*time.Second),
		DefaultDurationSec:  cfg.Party.DefaultDurationSec,
		JoinCodeLength:      cfg.Party.JoinCodeLength,
	}
	service := app.NewPartyService(store, items, settings)

	handler := transport.NewHandler(service)
	wsHandler := transport.NewWSHandler(service, config.TTLDuration(cfg.Party.WSKeepalive, 5*time.Second))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler.Register(mux)
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting party session service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleItemSets provides minimal demo content for the memory-only
// wiring; production deployments load item sets from Postgres.
func sampleItemSets() map[string]domain.ItemSet {
	return map[string]domain.ItemSet{
		"set-1": {
			ID:   "set-1",
			Mode: domain.ModeQuiz,
			Items: []domain.Item{
				{
					ID:           "q1",
					Prompt:       "What is 2 + 2?",
					Choices:      []string{"3", "4", "5"},
					CorrectIndex: 1,
				},
				{
					ID:           "q2",
					Prompt:       "Which planet is closest to the sun?",
					Choices:      []string{"Venus", "Earth", "Mercury"},
					CorrectIndex: 2,
				},
			},
		},
		"set-2": {
			ID:   "set-2",
			Mode: domain.ModeFlashcards,
			Items: []domain.Item{
				{ID: "c1", Front: "ephemeral", Back: "lasting a very short time"},
				{ID: "c2", Front: "ubiquitous", Back: "present everywhere"},
			},
		},
	}
}
