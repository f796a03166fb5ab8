package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (if any) over Defaults, loads a .env
// file when present, then applies OPTSETTLE_* overrides. The result is not
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("decode %s: unknown keys %v", path, undecoded)
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and endpoints at deploy
// time without touching the TOML file. Assets and series are file-only.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.DSN, "OPTSETTLE_POSTGRES_DSN")
	setInt(&cfg.Postgres.MaxOpenConns, "OPTSETTLE_POSTGRES_MAX_OPEN_CONNS")
	setInt(&cfg.Postgres.MaxIdleConns, "OPTSETTLE_POSTGRES_MAX_IDLE_CONNS")
	setStr(&cfg.Postgres.MigrationsDir, "OPTSETTLE_POSTGRES_MIGRATIONS_DIR")

	setStr(&cfg.NATS.URL, "OPTSETTLE_NATS_URL")

	setStr(&cfg.Redis.Addr, "OPTSETTLE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OPTSETTLE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OPTSETTLE_REDIS_DB")

	setStr(&cfg.S3.Endpoint, "OPTSETTLE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OPTSETTLE_S3_REGION")
	setStr(&cfg.S3.Bucket, "OPTSETTLE_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "OPTSETTLE_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "OPTSETTLE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OPTSETTLE_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "OPTSETTLE_S3_FORCE_PATH_STYLE")

	setStr(&cfg.Server.GRPCAddr, "OPTSETTLE_GRPC_ADDR")
	setStr(&cfg.Server.HTTPAddr, "OPTSETTLE_HTTP_ADDR")
	setStr(&cfg.Server.MetricsAddr, "OPTSETTLE_METRICS_ADDR")

	setInt(&cfg.Engine.InboxSize, "OPTSETTLE_ENGINE_INBOX_SIZE")
	setInt(&cfg.Engine.PersistBatchSize, "OPTSETTLE_ENGINE_PERSIST_BATCH_SIZE")
	setDuration(&cfg.Engine.PersistFlushTimeout, "OPTSETTLE_ENGINE_PERSIST_FLUSH_TIMEOUT")
	setInt(&cfg.Engine.IdempotencyCapacity, "OPTSETTLE_ENGINE_IDEMPOTENCY_CAPACITY")
	setDuration(&cfg.Engine.CheckpointInterval, "OPTSETTLE_ENGINE_CHECKPOINT_INTERVAL")
	setDuration(&cfg.Engine.MaxClockSkew, "OPTSETTLE_ENGINE_MAX_CLOCK_SKEW")

	setBool(&cfg.Keeper.Enabled, "OPTSETTLE_KEEPER_ENABLED")
	setStr(&cfg.Keeper.Schedule, "OPTSETTLE_KEEPER_SCHEDULE")
	setStr(&cfg.Keeper.Caller, "OPTSETTLE_KEEPER_CALLER")
	setInt(&cfg.Keeper.BatchSize, "OPTSETTLE_KEEPER_BATCH_SIZE")

	setStr(&cfg.Factory.Address, "OPTSETTLE_FACTORY_ADDRESS")
	setUint64(&cfg.Factory.ChainID, "OPTSETTLE_CHAIN_ID")

	setStr(&cfg.Log.Level, "LOG_LEVEL")
	setStr(&cfg.Log.Level, "OPTSETTLE_LOG_LEVEL")
	setStr(&cfg.Log.Format, "OPTSETTLE_LOG_FORMAT")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
