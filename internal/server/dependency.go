package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docker/docker/client"
	pglib "github.com/go-pg/pg/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/shipyard/sandboxd/internal/config"
	storepg "github.com/shipyard/sandboxd/internal/store/pg"
)

// Dependency owns every piece of process-wide infrastructure: the Docker
// client, Redis, Postgres, and the asynq client used to schedule cron
// tasks — the same shape as the teacher's internal/server/dependency.go,
// with the session-platform schema swapped for the sandbox store.
type Dependency struct {
	Docker      *client.Client
	Redis       *redis.Client
	PG          *pglib.DB
	Store       *storepg.Store
	AsynqClient *asynq.Client
	AsynqRedis  asynq.RedisClientOpt
	Logger      *slog.Logger
}

func InitDeps(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependency, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if _, err := dockerClient.Ping(ctx); err != nil {
		dockerClient.Close()
		return nil, fmt.Errorf("docker ping: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		dockerClient.Close()
		return nil, fmt.Errorf("redis ping (%s): %w", cfg.Redis.Addr, err)
	}

	pgDB := pglib.Connect(&pglib.Options{
		Addr:     cfg.Postgres.Addr,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
	})
	if _, err := pgDB.Exec("SELECT 1"); err != nil {
		redisClient.Close()
		dockerClient.Close()
		return nil, fmt.Errorf("postgres ping (%s): %w", cfg.Postgres.Addr, err)
	}

	st := storepg.New(pgDB, redisClient, cfg.Idempotency.TTL)
	if err := st.Migrate(); err != nil {
		pgDB.Close()
		redisClient.Close()
		dockerClient.Close()
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	asynqRedisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	}
	asynqClient := asynq.NewClient(asynqRedisOpt)

	return &Dependency{
		Docker:      dockerClient,
		Redis:       redisClient,
		PG:          pgDB,
		Store:       st,
		AsynqClient: asynqClient,
		AsynqRedis:  asynqRedisOpt,
		Logger:      logger,
	}, nil
}

func (d *Dependency) Close() {
	if d.AsynqClient != nil {
		d.AsynqClient.Close()
	}
	if d.PG != nil {
		d.PG.Close()
	}
	if d.Redis != nil {
		d.Redis.Close()
	}
	if d.Docker != nil {
		d.Docker.Close()
	}
}
