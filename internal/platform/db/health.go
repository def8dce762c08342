package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthPingTimeout = 5 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthReport struct {
	Status  string      `json:"status"`
	Service string      `json:"service,omitempty"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Pool    *PoolReport `json:"pool,omitempty"`
}

// PoolReport is the subset of pgxpool.Stat exposed on /health/db.
type PoolReport struct {
	Total         int32  `json:"total_conns"`
	Idle          int32  `json:"idle_conns"`
	InUse         int32  `json:"acquired_conns"`
	Max           int32  `json:"max_conns"`
	EmptyAcquires int64  `json:"empty_acquire_count"`
	AcquireWait   string `json:"acquire_duration"`
}

func reportPool(pool *pgxpool.Pool) *PoolReport {
	s := pool.Stat()
	return &PoolReport{
		Total:         s.TotalConns(),
		Idle:          s.IdleConns(),
		InUse:         s.AcquiredConns(),
		Max:           s.MaxConns(),
		EmptyAcquires: s.EmptyAcquireCount(),
		AcquireWait:   s.AcquireDuration().String(),
	}
}

// LivenessHandler answers without touching the database.
func LivenessHandler(service string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, healthReport{Status: "healthy", Service: service})
	}
}

// HealthHandler is the readiness probe. The driver error is not returned to
// the caller.
func HealthHandler(p Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
		defer cancel()

		start := time.Now()
		err := p.Ping(ctx)

		rep := healthReport{Status: "healthy", Latency: time.Since(start).String()}
		if pool, ok := p.(*pgxpool.Pool); ok && pool != nil {
			rep.Pool = reportPool(pool)
		}
		if err != nil {
			rep.Status, rep.Error = "unhealthy", "database unreachable"
			return c.JSON(http.StatusServiceUnavailable, rep)
		}
		return c.JSON(http.StatusOK, rep)
	}
}
