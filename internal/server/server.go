package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/civigraph/atlas/internal/queue"
	mid "github.com/civigraph/atlas/internal/server/middleware"
	"github.com/civigraph/atlas/internal/storage"
	"github.com/civigraph/atlas/internal/util"
	"github.com/civigraph/atlas/pkg/enrich"
	olenrich "github.com/civigraph/atlas/pkg/enrich/ollama"
	oenrich "github.com/civigraph/atlas/pkg/enrich/openai"
	"github.com/civigraph/atlas/pkg/enrich/wiki"
	"github.com/civigraph/atlas/pkg/graph"
	"github.com/civigraph/atlas/pkg/leaselock"
	"github.com/civigraph/atlas/pkg/logger"
	pgxstore "github.com/civigraph/atlas/pkg/store/pgx"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func Init() {
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	jwksUrl := util.GetEnv("AUTH_URL") + "/jwks"
	k, err := keyfunc.NewDefault([]string{jwksUrl})
	if err != nil {
		logger.Fatal("Failed to load jwks keys", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runMigrations()

	conn, err := pgxpool.New(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}

	if err := queue.SetupQueues(ch, queue.WorkQueues()); err != nil {
		logger.Fatal("Failed to setup queues", "err", err)
	}

	s3 := storage.NewS3Client(ctx)

	engine := graph.NewEngine(graph.NewEngineParams{
		Docs:       pgxstore.NewDocStore(conn),
		Enricher:   newEnricher(),
		MaxRetries: int(util.GetEnvNumeric("ENRICH_MAX_RETRIES", 3)),
	})
	if err := engine.Load(ctx); err != nil {
		logger.Fatal("Failed to load entity registry", "err", err)
	}
	logger.Info("Entity registry loaded", "entities", engine.Entities().Count())

	masterAPIKey := util.GetEnv("MASTER_API_KEY")
	parsedMasterUserID, _ := strconv.ParseInt(util.GetEnv("MASTER_USER_ID"), 10, 64)
	masterUserRole := util.GetEnv("MASTER_USER_ROLE")

	app := &mid.App{
		DBConn:         conn,
		Queue:          ch,
		Key:            &k,
		S3:             s3,
		Engine:         engine,
		Locker:         leaselock.New(conn),
		MasterAPIKey:   masterAPIKey,
		MasterUserID:   parsedMasterUserID,
		MasterUserRole: masterUserRole,
	}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("256M"))

	RegisterRoutes(e)

	go func() {
		port := util.GetEnv("PORT")
		if port == "" {
			port = "8080"
		}
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}

func newEnricher() enrich.Enricher {
	adapter := util.GetEnv("ENRICH_ADAPTER")

	switch adapter {
	case "openai":
		return oenrich.NewEnricher(oenrich.NewEnricherParams{
			Model:   util.GetEnv("ENRICH_MODEL"),
			BaseURL: util.GetEnv("ENRICH_URL"),
			APIKey:  util.GetEnv("ENRICH_KEY"),
		})
	case "ollama":
		client, err := olenrich.NewEnricher(olenrich.NewEnricherParams{
			Model:                 util.GetEnv("ENRICH_MODEL"),
			BaseURL:               util.GetEnv("ENRICH_URL"),
			APIKey:                util.GetEnv("ENRICH_KEY"),
			MaxConcurrentRequests: int64(util.GetEnvNumeric("ENRICH_MAX_CONCURRENT", 1)),
		})
		if err != nil {
			logger.Fatal("Could not create Ollama enricher", "err", err)
		}
		return client
	case "none":
		return nil
	default:
		return wiki.NewEnricher(wiki.NewEnricherParams{
			Endpoint: util.GetEnv("WIKIDATA_URL"),
		})
	}
}

func runMigrations() {
	source := util.GetEnvString("MIGRATIONS_URL", "file://migrations")
	m, err := migrate.New(source, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Failed to initialize migrations", "err", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("Failed to run migrations", "err", err)
	}
}
