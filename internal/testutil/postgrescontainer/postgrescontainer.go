// Package postgrescontainer starts a throwaway PostgreSQL server in docker for
// integration tests.
package postgrescontainer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	image         = "postgres:16-alpine"
	containerName = "tripdesk-postgres-test"
	hostPort      = "55432"
	user          = "tripdesk"
	password      = "secret"
	dbName        = "tripdesk_test"

	// EnvDSN points tests at an existing server instead of docker.
	EnvDSN = "TRIPDESK_TEST_POSTGRES_DSN"
)

var (
	once     sync.Once
	started  bool
	setupErr error
)

// Addr returns host:port for connecting to the test Postgres instance.
func Addr() string { return "127.0.0.1:" + hostPort }

// DSN returns a lib/pq formatted connection string.
func DSN() string {
	if dsn := os.Getenv(EnvDSN); dsn != "" {
		return dsn
	}
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", user, password, Addr(), dbName)
}

// Setup launches the container unless EnvDSN is set, then waits until the
// server accepts connections.
func Setup() error {
	once.Do(func() {
		if os.Getenv(EnvDSN) == "" {
			if err := ensureDocker(); err != nil {
				setupErr = err
				return
			}
			_ = stopContainer()
			if err := runContainer(); err != nil {
				setupErr = err
				return
			}
			started = true
		}
		setupErr = waitForPostgres(DSN(), 20*time.Second)
	})
	return setupErr
}

// Teardown stops the container launched by Setup.
func Teardown() error {
	if !started {
		return nil
	}
	return stopContainer()
}

func ensureDocker() error {
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("docker executable not found: %w", err)
	}
	return nil
}

func runContainer() error {
	return runDocker(
		"run",
		"-d",
		"--rm",
		"--name", containerName,
		"-e", "POSTGRES_USER="+user,
		"-e", "POSTGRES_PASSWORD="+password,
		"-e", "POSTGRES_DB="+dbName,
		"-p", fmt.Sprintf("%s:5432", hostPort),
		image,
	)
}

func stopContainer() error {
	output, err := exec.Command("docker", "stop", containerName).CombinedOutput()
	if err != nil {
		if strings.Contains(string(output), "No such container") {
			return nil
		}
		return fmt.Errorf("docker stop failed: %w: %s", err, output)
	}
	return nil
}

func runDocker(args ...string) error {
	output, err := exec.Command("docker", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker %s failed: %w: %s", args[0], err, output)
	}
	return nil
}

func waitForPostgres(dsn string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		err := func() error {
			db, err := sql.Open("postgres", dsn)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.PingContext(ctx)
		}()
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return errors.New("postgres did not become ready in time")
}
