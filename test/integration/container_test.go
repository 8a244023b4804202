package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const defaultPostgresImage = "postgres:16-alpine"

// pgContainer is a throwaway postgres started through the Docker CLI.
type pgContainer struct {
	id      string
	connStr string
}

// startPostgres runs the image named by MCHCARE_TEST_PG_IMAGE (postgres:16 by
// default) with the clinic timezone, lets Docker pick the host port and
// waits until the server accepts queries.
func startPostgres(ctx context.Context) (*pgContainer, error) {
	image := os.Getenv("MCHCARE_TEST_PG_IMAGE")
	if image == "" {
		image = defaultPostgresImage
	}
	out, err := docker(ctx, "run", "-d", "--rm",
		"--label", "mchcare.integration=1",
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER=mchcare",
		"-e", "POSTGRES_PASSWORD=mchcare",
		"-e", "POSTGRES_DB=mchcaretest",
		"-e", "TZ=Asia/Manila",
		image,
	)
	if err != nil {
		return nil, err
	}
	c := &pgContainer{id: out}

	// "127.0.0.1:49153"
	addr, err := docker(ctx, "port", c.id, "5432/tcp")
	if err != nil {
		c.stop()
		return nil, err
	}
	addr = strings.SplitN(addr, "\n", 2)[0]
	c.connStr = fmt.Sprintf("postgres://mchcare:mchcare@%s/mchcaretest?sslmode=disable", addr)

	if err := waitReady(ctx, c.connStr, 30*time.Second); err != nil {
		c.stop()
		return nil, err
	}
	return c, nil
}

func (c *pgContainer) stop() {
	_, _ = docker(context.Background(), "rm", "-f", c.id)
}

func docker(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// waitReady retries a single connection with a doubling delay. The entrypoint
// restarts postgres once after init, so one successful ping is not enough on
// its own; a query must succeed.
func waitReady(ctx context.Context, connStr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	delay := 100 * time.Millisecond
	var lastErr error
	for {
		if lastErr = probe(ctx, connStr); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %v: %w", timeout, lastErr)
		case <-time.After(delay):
		}
		if delay < 2*time.Second {
			delay *= 2
		}
	}
}

func probe(ctx context.Context, connStr string) error {
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
