package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// HealthHandler returns a handler for the health check endpoint. It pings
// the database and, when a Redis client is configured, Redis as well. The
// endpoint reports 503 if either backing store is unreachable.
func HealthHandler(pool *pgxpool.Pool, rdb *redis.Client) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		dbErr := pool.Ping(ctx)
		stats := GetPoolStats(pool)

		redisStatus := "disabled"
		var redisErr error
		if rdb != nil {
			redisStatus = "healthy"
			if redisErr = rdb.Ping(ctx).Err(); redisErr != nil {
				redisStatus = "unhealthy"
			}
		}

		if dbErr != nil || redisErr != nil {
			stats.Healthy = stats.Healthy && dbErr == nil
			body := map[string]interface{}{
				"status": "unhealthy",
				"pool":   stats,
				"redis":  redisStatus,
			}
			if dbErr != nil {
				body["error"] = dbErr.Error()
			} else {
				body["error"] = redisErr.Error()
			}
			return c.JSON(http.StatusServiceUnavailable, body)
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"pool":   stats,
			"redis":  redisStatus,
		})
	}
}
