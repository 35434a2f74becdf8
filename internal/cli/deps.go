package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/cloo-solutions/corpora/internal/config"
	"github.com/cloo-solutions/corpora/internal/database"
	"github.com/cloo-solutions/corpora/internal/indexer"
	"github.com/cloo-solutions/corpora/internal/labeler"
	"github.com/cloo-solutions/corpora/internal/source"
	"github.com/cloo-solutions/corpora/internal/telemetry"
	"github.com/cloo-solutions/corpora/internal/transcribe"
)

// deps holds everything a command needs, built once at startup and
// passed down explicitly.
type deps struct {
	cfg         *config.Config
	pool        *pgxpool.Pool
	provider    source.Provider
	classifier  labeler.Classifier
	segmenter   labeler.Segmenter
	transcriber transcribe.Transcriber
	index       indexer.Client
	shutdown    func()
}

func (d *deps) close() {
	if d.pool != nil {
		d.pool.Close()
	}
	if d.shutdown != nil {
		d.shutdown()
	}
}

// buildDeps connects to the database, runs migrations, and constructs
// whichever external clients the configuration enables.
func buildDeps(ctx context.Context, noMigrate bool, sourceOverride string) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if sourceOverride != "" {
		cfg.Source = sourceOverride
	}

	d := &deps{cfg: cfg, shutdown: func() {}}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}
		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:         dsn,
			Environment: environment,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			d.shutdown = shutdownTelemetry
		}
	}

	pool, err := database.NewPoolFromURL(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	d.pool = pool
	log.Println("connected to database")

	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			d.close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	d.provider, err = buildProvider(ctx, cfg)
	if err != nil {
		d.close()
		return nil, err
	}

	switch {
	case cfg.Labeler == "static":
		d.classifier = labeler.NewStatic()
		log.Println("static labeler configured: every unit is kept")
	case cfg.HasOpenAI():
		client := labeler.NewOpenAIClient(labeler.Config{APIKey: cfg.OpenAIAPIKey, Model: cfg.LabelerModel})
		d.classifier = client
		d.segmenter = client
	default:
		log.Println("no OpenAI key configured: annotation disabled")
	}
	if cfg.HasOpenAI() {
		d.transcriber = transcribe.NewWhisperClient(transcribe.Config{APIKey: cfg.OpenAIAPIKey, Model: cfg.TranscribeModel})
	} else {
		log.Println("no OpenAI key configured: media transcription disabled")
	}

	if cfg.HasIndex() {
		d.index = indexer.NewHTTPClient(cfg.IndexURL, cfg.IndexAPIKey)
	} else {
		log.Println("no index service configured: indexing disabled")
	}

	return d, nil
}

func buildProvider(ctx context.Context, cfg *config.Config) (source.Provider, error) {
	switch cfg.Source {
	case "local":
		root := cfg.LocalRoot
		if root == "" {
			root = "."
		}
		return source.NewFSProvider(root), nil
	case "gdrive":
		if !cfg.HasDrive() {
			return nil, fmt.Errorf("source gdrive requires CORPORA_DRIVE_CREDENTIALS_FILE")
		}
		return source.NewDriveProvider(ctx, cfg.DriveCredentialsFile)
	case "s3":
		if !cfg.HasS3() {
			return nil, fmt.Errorf("source s3 requires CORPORA_S3_ENDPOINT, CORPORA_S3_ACCESS_KEY_ID and CORPORA_S3_SECRET_ACCESS_KEY")
		}
		return source.NewS3Provider(ctx, source.S3ProviderConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
	default:
		return nil, fmt.Errorf("unknown source %q (expected local, gdrive or s3)", cfg.Source)
	}
}

func runMigrations(databaseURL string) error {
	// golang-migrate needs a database/sql handle
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
