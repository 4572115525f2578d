// Package bootstrap assembles the application from configuration. Both the
// HTTP server and the CLI build through here.
package bootstrap

import (
	"context"
	"database/sql"
	"net/http"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/bryanwahyu/vulnrisk/internal/application"
	"github.com/bryanwahyu/vulnrisk/internal/application/aggregate"
	appanalysis "github.com/bryanwahyu/vulnrisk/internal/application/analysis"
	"github.com/bryanwahyu/vulnrisk/internal/application/pipeline"
	"github.com/bryanwahyu/vulnrisk/internal/application/workspace"
	"github.com/bryanwahyu/vulnrisk/internal/config"
	advdomain "github.com/bryanwahyu/vulnrisk/internal/domain/advisory"
	domain "github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
	"github.com/bryanwahyu/vulnrisk/internal/domain/history"
	"github.com/bryanwahyu/vulnrisk/internal/infra/advisory"
	"github.com/bryanwahyu/vulnrisk/internal/infra/advisory/github"
	"github.com/bryanwahyu/vulnrisk/internal/infra/advisory/osv"
	"github.com/bryanwahyu/vulnrisk/internal/infra/ai/openai"
	"github.com/bryanwahyu/vulnrisk/internal/infra/artifacts/fsstore"
	mysqlp "github.com/bryanwahyu/vulnrisk/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/vulnrisk/internal/infra/db/postgres"
	"github.com/bryanwahyu/vulnrisk/internal/infra/executor"
	"github.com/bryanwahyu/vulnrisk/internal/infra/fetcher/gitcli"
	"github.com/bryanwahyu/vulnrisk/internal/infra/fetcher/gogit"
	"github.com/bryanwahyu/vulnrisk/internal/infra/httpserver"
	"github.com/bryanwahyu/vulnrisk/internal/infra/stages/audit"
	"github.com/bryanwahyu/vulnrisk/internal/infra/stages/report"
	"github.com/bryanwahyu/vulnrisk/internal/infra/stages/research"
	"github.com/bryanwahyu/vulnrisk/internal/infra/stages/threatmodel"
	minioStore "github.com/bryanwahyu/vulnrisk/internal/infra/storage"
	"github.com/bryanwahyu/vulnrisk/internal/middleware"
)

// App is a fully wired service.
type App struct {
	Config     *config.Config
	Log        *zap.SugaredLogger
	Service    *appanalysis.Service
	Workspaces *workspace.Manager
	Metrics    *middleware.Metrics
	Health     map[string]middleware.HealthChecker

	db *sql.DB
}

// Build wires every component from cfg. cfg must already be validated.
func Build(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*App, error) {
	for _, w := range cfg.Warnings() {
		log.Warnw("configuration warning", "warning", w)
	}

	root, err := filepath.Abs(cfg.Analysis.WorkspaceRoot)
	if err != nil {
		return nil, errors.Wrap(err, "resolve workspace root")
	}

	app := &App{
		Config:  cfg,
		Log:     log,
		Metrics: middleware.NewMetrics(),
		Health: map[string]middleware.HealthChecker{
			"workspace": middleware.WritableDirChecker{Dir: root},
		},
	}

	var fetcher domain.Fetcher
	binaries := []string{"npm"}
	switch cfg.Analysis.FetchDriver {
	case "gogit":
		// GitHub credential, github.com only
		fetcher = gogit.New(map[string]string{"github.com": cfg.Advisories.GitHubToken}, log.Named("fetch"))
	default:
		fetcher = gitcli.New()
		binaries = append(binaries, "git")
	}
	app.Health["binaries"] = middleware.BinaryChecker{Names: binaries}

	app.Workspaces = &workspace.Manager{
		Root:    root,
		Fetcher: fetcher,
		Parser:  domain.NewRefParser(cfg.Analysis.AllowedHosts...),
		Clock:   application.SystemClock{},
		Log:     log.Named("workspace"),
	}
	// leftovers from a previous process
	if n, err := app.Workspaces.Sweep(2 * cfg.AnalysisTimeout()); err != nil {
		log.Warnw("workspace sweep failed", "error", err)
	} else if n > 0 {
		log.Infow("removed stale workspaces", "count", n)
	}

	ai := openai.NewClientWithBaseURL(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)

	sources := []advdomain.Source{github.New(cfg.Advisories.GitHubToken, cfg.Advisories.RequestsPerSecond)}
	if cfg.Advisories.UseOSVFallback {
		sources = append(sources, osv.New(cfg.Advisories.RequestsPerSecond))
	}
	advisories := advisory.NewChain(log.Named("advisory"), sources...)

	stages := domain.Stages{
		Audit:       audit.New(executor.NewRunner("npm_config_update_notifier=false"), log.Named("audit")),
		ThreatModel: threatmodel.New(ai, cfg.OpenAI.Model, log.Named("threat_model")),
		Research:    research.New(advisories, cfg.Advisories.Concurrency, log.Named("research")),
		Synthesis:   report.New(ai, cfg.OpenAI.Model, log.Named("synthesis")),
	}

	svc := &appanalysis.Service{
		Workspaces: app.Workspaces,
		Stores:     fsstore.Factory{},
		Pipeline: &pipeline.Controller{
			Stages:  stages,
			Clock:   application.SystemClock{},
			Log:     log.Named("pipeline"),
			Grace:   cfg.StageGrace(),
			Observe: app.Metrics.ObserveStage,
		},
		Aggregator:      &aggregate.Aggregator{Log: log.Named("aggregate")},
		Stages:          stages,
		Metrics:         app.Metrics,
		Clock:           application.SystemClock{},
		Log:             log.Named("analysis"),
		FetchTimeout:    cfg.FetchTimeout(),
		AnalysisTimeout: cfg.AnalysisTimeout(),
		Version:         cfg.Analysis.Version,
	}

	if repo, err := app.openHistory(ctx); err != nil {
		return nil, err
	} else if repo != nil {
		svc.History = repo
	}

	if cfg.Minio.Endpoint != "" {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			_ = app.Close()
			return nil, errors.Wrap(err, "minio init")
		}
		svc.Archive = store
		app.Health["archive"] = middleware.Optional{HealthChecker: middleware.CheckerFunc(store.Ping)}
	}

	app.Service = svc
	return app, nil
}

func (a *App) openHistory(ctx context.Context) (history.Repository, error) {
	dsn := a.Config.DatabaseDSN()
	if dsn == "" {
		a.Log.Infow("analysis history disabled")
		return nil, nil
	}
	switch a.Config.Database.Driver {
	case "postgres":
		db, err := postgresp.Connect(ctx, dsn)
		if err != nil {
			return nil, errors.Wrap(err, "postgres connect")
		}
		a.db = db
		if err := postgresp.Migrate(ctx, db); err != nil {
			_ = a.Close()
			return nil, errors.Wrap(err, "postgres migrate")
		}
		a.Health["database"] = middleware.Optional{HealthChecker: &middleware.DatabaseHealthChecker{DB: db}}
		return postgresp.NewAnalysisRepository(db), nil
	default:
		db, err := mysqlp.Connect(ctx, dsn)
		if err != nil {
			return nil, errors.Wrap(err, "mysql connect")
		}
		a.db = db
		if err := mysqlp.Migrate(ctx, db); err != nil {
			_ = a.Close()
			return nil, errors.Wrap(err, "mysql migrate")
		}
		a.Health["database"] = middleware.Optional{HealthChecker: &middleware.DatabaseHealthChecker{DB: db}}
		return mysqlp.NewAnalysisRepository(db), nil
	}
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return httpserver.NewRouter(a.Service, httpserver.Options{
		Version:    a.Service.Version,
		CORSOrigin: a.Config.Server.CORSOrigin,
		Log:        a.Log.Named("http"),
		Metrics:    a.Metrics,
		Health:     a.Health,
	})
}

// Close releases the database pool.
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}
