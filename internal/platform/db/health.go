package db

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthTimeout = 5 * time.Second

// PoolStats is the pool section of the database health body.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// Health is the body of GET /health/db.
type Health struct {
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	SchemaVersion int        `json:"schema_version"`
	Pool          *PoolStats `json:"pool"`
}

// Pinger is what the health handler needs from a pool.
type Pinger interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Stat() *pgxpool.Stat
}

func poolStats(pool Pinger) *PoolStats {
	stat := pool.Stat()
	if stat == nil {
		return &PoolStats{}
	}
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// SchemaVersion returns the highest migration version recorded in schema,
// 0 when nothing has been applied.
func SchemaVersion(ctx context.Context, q Pinger, schema string) (int, error) {
	if err := validSchema(schema); err != nil {
		return 0, err
	}
	var version int
	err := q.QueryRow(ctx, fmt.Sprintf(`SELECT COALESCE(MAX(version), 0) FROM %s._migrations`, schema)).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// HealthHandler reports 200 only when the database answers a ping and at
// least one migration has been applied to schema. Anything else is 503.
func HealthHandler(pool Pinger, schema string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		h := Health{Status: "healthy", Pool: poolStats(pool)}
		if err := pool.Ping(ctx); err != nil {
			h.Status, h.Error = "unhealthy", err.Error()
			return c.JSON(http.StatusServiceUnavailable, h)
		}

		version, err := SchemaVersion(ctx, pool, schema)
		switch {
		case err != nil:
			h.Status, h.Error = "unmigrated", err.Error()
		case version == 0:
			h.Status, h.Error = "unmigrated", "no migrations applied"
		}
		h.SchemaVersion = version
		if h.Status != "healthy" {
			return c.JSON(http.StatusServiceUnavailable, h)
		}
		return c.JSON(http.StatusOK, h)
	}
}
