package db

import (
	"context"
	"io/fs"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the connection pool snapshot reported by /health/db.
type PoolStats struct {
	TotalConns    int32  `json:"total_conns"`
	IdleConns     int32  `json:"idle_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	MaxConns      int32  `json:"max_conns"`
	AcquireWait   string `json:"acquire_wait"`
}

// SchemaState summarizes migrations for /health/db.
type SchemaState struct {
	Version int `json:"version"`
	Pending int `json:"pending"`
}

func poolStats(pool *pgxpool.Pool) PoolStats {
	stat := pool.Stat()
	return PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
		AcquireWait:   stat.AcquireDuration().String(),
	}
}

func schemaState(sts []MigrationStatus) SchemaState {
	var s SchemaState
	for _, st := range sts {
		if st.Applied {
			s.Version = st.Version
		} else {
			s.Pending++
		}
	}
	return s
}

// HealthHandler pings the database and reports pool statistics and the
// schema version. Pending migrations report "degraded" with a 200 so a
// rolling deploy is not killed before migrate runs.
func HealthHandler(pool *pgxpool.Pool, migrations fs.FS) echo.HandlerFunc {
	m := NewMigrator(pool, migrations)
	return healthHandler(pool.Ping, func() PoolStats { return poolStats(pool) }, m.Status)
}

func healthHandler(ping func(context.Context) error, stats func() PoolStats, status func(context.Context) ([]MigrationStatus, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		if err := ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"error":  err.Error(),
				"pool":   stats(),
			})
		}
		sts, err := status(ctx)
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"error":  err.Error(),
				"pool":   stats(),
			})
		}
		schema := schemaState(sts)
		state := "healthy"
		if schema.Pending > 0 {
			state = "degraded"
		}
		return c.JSON(http.StatusOK, map[string]any{
			"status": state,
			"pool":   stats(),
			"schema": schema,
		})
	}
}
