package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const templateDB = "settlement_template"

// sharedPostgres is one container per test binary holding a migrated
// template database. Ryuk reaps the container when the binary exits.
var sharedPostgres struct {
	once    sync.Once
	baseURL *url.URL
	admin   *sql.DB
	err     error
}

// SetupTestDB returns a connection to a fresh, migrated database cloned from
// the shared template. The database is dropped when the test ends.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	sharedPostgres.once.Do(startPostgres)
	if sharedPostgres.err != nil {
		t.Fatalf("start postgres: %v", sharedPostgres.err)
	}

	ctx := context.Background()
	name := "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := sharedPostgres.admin.ExecContext(ctx,
		fmt.Sprintf(`CREATE DATABASE %s TEMPLATE %s`, name, templateDB)); err != nil {
		t.Fatalf("create test database: %v", err)
	}

	db, err := sql.Open("postgres", databaseURL(name))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
		if _, err := sharedPostgres.admin.ExecContext(ctx,
			fmt.Sprintf(`DROP DATABASE IF EXISTS %s WITH (FORCE)`, name)); err != nil {
			t.Logf("drop test database %s: %v", name, err)
		}
	})

	return db
}

func startPostgres() {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase(templateDB),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		sharedPostgres.err = fmt.Errorf("run container: %w", err)
		return
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		sharedPostgres.err = fmt.Errorf("connection string: %w", err)
		return
	}
	base, err := url.Parse(connStr)
	if err != nil {
		sharedPostgres.err = fmt.Errorf("parse connection string: %w", err)
		return
	}
	sharedPostgres.baseURL = base

	tmpl, err := sql.Open("postgres", connStr)
	if err != nil {
		sharedPostgres.err = fmt.Errorf("open template: %w", err)
		return
	}
	err = applyMigrations(ctx, tmpl)
	tmpl.Close()
	if err != nil {
		sharedPostgres.err = err
		return
	}

	// A template cannot be cloned while anyone is connected to it, so
	// database management goes through the maintenance database.
	admin, err := sql.Open("postgres", databaseURL("postgres"))
	if err != nil {
		sharedPostgres.err = fmt.Errorf("open admin: %w", err)
		return
	}
	admin.SetMaxOpenConns(1)
	sharedPostgres.admin = admin
}

func databaseURL(name string) string {
	u := *sharedPostgres.baseURL
	u.Path = "/" + name
	return u.String()
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	files, err := filepath.Glob(filepath.Join(findMigrationsDir(), "*.up.sql"))
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no migrations found")
	}
	sort.Strings(files)

	for _, f := range files {
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", filepath.Base(f), err)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", filepath.Base(f), err)
		}
	}
	return nil
}

// findMigrationsDir walks up from the package under test to the module root.
func findMigrationsDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return "migrations"
	}
	for range 10 {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		dir = filepath.Dir(dir)
	}
	return "migrations"
}
