//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const defaultPostgresImage = "postgres:16-alpine"

// startPostgresContainer launches a throwaway Postgres through the docker CLI.
// Docker picks the host port; CLINOTE_TEST_PG_IMAGE overrides the image.
func startPostgresContainer(ctx context.Context) (string, func(), error) {
	image := os.Getenv("CLINOTE_TEST_PG_IMAGE")
	if image == "" {
		image = defaultPostgresImage
	}
	name := "clinote-it-" + uuid.NewString()[:8]

	if _, err := docker(ctx, "run", "-d", "--rm", "--name", name,
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER=clinote",
		"-e", "POSTGRES_PASSWORD=clinote",
		"-e", "POSTGRES_DB=clinotetest",
		image,
	); err != nil {
		return "", nil, err
	}
	stop := func() { _, _ = docker(context.Background(), "stop", name) }

	hostPort, err := docker(ctx, "port", name, "5432/tcp")
	if err != nil {
		stop()
		return "", nil, err
	}
	// "127.0.0.1:49153", possibly followed by an IPv6 mapping line.
	hostPort = strings.SplitN(hostPort, "\n", 2)[0]

	connStr := fmt.Sprintf("postgres://clinote:clinote@%s/clinotetest?sslmode=disable", hostPort)
	if err := awaitReady(ctx, connStr, 45*time.Second); err != nil {
		stop()
		return "", nil, err
	}
	return connStr, stop, nil
}

func docker(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker %s: %w: %s", args[0], err, out)
	}
	return strings.TrimSpace(string(out)), nil
}

// awaitReady retries until the server answers a query over TCP.
func awaitReady(ctx context.Context, connStr string, within time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, within)
	defer cancel()

	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()

	var lastErr error
	for {
		if lastErr = ping(ctx, connStr); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %s: %w", within, lastErr)
		case <-tick.C:
		}
	}
}

func ping(ctx context.Context, connStr string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	var one int
	return conn.QueryRow(ctx, "SELECT 1").Scan(&one)
}
