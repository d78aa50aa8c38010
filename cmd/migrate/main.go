package main

import (
	"database/sql"
	"flag"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/example/oauthd/internal/config"
)

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, version, force")
		steps   = flag.Int("steps", 0, "Number of migration steps (for up/down)")
		version = flag.Uint("version", 0, "Target version (for force command)")
	)
	flag.Parse()

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	if cfg.DBAdapter != "postgres" {
		log.Fatal().Str("adapter", cfg.DBAdapter).Msg("migrations only work with PostgreSQL")
	}

	dsn, err := cfg.BuildPostgresDSN()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres config")
	}

	switch *command {
	case "up":
		if err := runMigration(cfg.MigrationsDir, dsn, true, *steps); err != nil {
			log.Fatal().Err(err).Msg("migration up failed")
		}
		fmt.Println("migrations applied successfully")
	case "down":
		if err := runMigration(cfg.MigrationsDir, dsn, false, *steps); err != nil {
			log.Fatal().Err(err).Msg("migration down failed")
		}
		fmt.Println("migrations rolled back successfully")
	case "version":
		v, dirty, err := getMigrationVersion(cfg.MigrationsDir, dsn)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to get version")
		}
		if dirty {
			log.Fatal().Uint("version", v).Msg("database is in a dirty state")
		}
		fmt.Printf("current migration version: %d\n", v)
	case "force":
		if *version == 0 {
			log.Fatal().Msg("version required for force command (use -version flag)")
		}
		if err := forceMigrationVersion(cfg.MigrationsDir, dsn, int(*version)); err != nil {
			log.Fatal().Err(err).Msg("force migration failed")
		}
		fmt.Printf("forced database to version %d\n", *version)
	default:
		log.Fatal().Str("command", *command).Msg("unknown command (supported: up, down, version, force)")
	}
}

func newMigrator(migrationsDir, dsn string) (*migrate.Migrate, *sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("database ping failed: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating migrate driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsDir, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, db, nil
}

func runMigration(migrationsDir, dsn string, up bool, steps int) error {
	m, db, err := newMigrator(migrationsDir, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if steps > 0 {
		stepCount := steps
		if !up {
			stepCount = -steps
		}
		if err := m.Steps(stepCount); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("applying migrations: %w", err)
		}
		return nil
	}
	if up {
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("applying migrations: %w", err)
		}
		return nil
	}
	if err := m.Down(); err != nil {
		return fmt.Errorf("rolling back migrations: %w", err)
	}
	return nil
}

func getMigrationVersion(migrationsDir, dsn string) (uint, bool, error) {
	m, db, err := newMigrator(migrationsDir, dsn)
	if err != nil {
		return 0, false, err
	}
	defer db.Close()

	version, dirty, err := m.Version()
	if err == migrate.ErrNilVersion {
		return 0, false, nil
	}
	return version, dirty, err
}

func forceMigrationVersion(migrationsDir, dsn string, version int) error {
	m, db, err := newMigrator(migrationsDir, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := m.Force(version); err != nil {
		return fmt.Errorf("forcing version: %w", err)
	}
	return nil
}
