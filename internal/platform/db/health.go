package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns           int32  `json:"total_conns"`
	IdleConns            int32  `json:"idle_conns"`
	AcquiredConns        int32  `json:"acquired_conns"`
	MaxConns             int32  `json:"max_conns"`
	AcquireCount         int64  `json:"acquire_count"`
	EmptyAcquireCount    int64  `json:"empty_acquire_count"`
	CanceledAcquireCount int64  `json:"canceled_acquire_count"`
	AcquireDuration      string `json:"acquire_duration"`
	Saturated            bool   `json:"saturated"`
	Healthy              bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:           stat.TotalConns(),
		IdleConns:            stat.IdleConns(),
		AcquiredConns:        stat.AcquiredConns(),
		MaxConns:             stat.MaxConns(),
		AcquireCount:         stat.AcquireCount(),
		EmptyAcquireCount:    stat.EmptyAcquireCount(),
		CanceledAcquireCount: stat.CanceledAcquireCount(),
		AcquireDuration:      stat.AcquireDuration().String(),
		Saturated:            isSaturated(stat.AcquiredConns(), stat.MaxConns()),
		Healthy:              stat.TotalConns() > 0,
	}
}

// isSaturated reports whether every pooled connection is currently leased,
// i.e. the next acquire will wait and may end in ErrPoolExhausted.
func isSaturated(acquired, max int32) bool {
	return max > 0 && acquired >= max
}

// HealthHandler returns a handler for the database health check endpoint.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		err := pool.Ping(ctx)
		stats := GetPoolStats(pool)

		if err != nil {
			stats.Healthy = false
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"pool":   stats,
			})
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"pool":   stats,
		})
	}
}
