package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/windholt/spacehost/client"
	"github.com/windholt/spacehost/internal/config"
	"github.com/windholt/spacehost/internal/domain"
	"github.com/windholt/spacehost/internal/infra/cache"
	"github.com/windholt/spacehost/internal/infra/database"
	"github.com/windholt/spacehost/internal/infra/queue"
	"github.com/windholt/spacehost/internal/infra/repository"
	"github.com/windholt/spacehost/internal/infra/spicedb"
	"github.com/windholt/spacehost/internal/present/rest"
	"github.com/windholt/spacehost/internal/present/rest/middleware"
	"github.com/windholt/spacehost/internal/service"
	"github.com/windholt/spacehost/internal/usecase"
)

func main() {
	configPath := flag.String("c", "config.yaml", "path to config file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	conf, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if conf.Server.EnableTrace {
		shutdown, err := setupTrace(ctx, conf.Server.TraceEndpoint)
		if err != nil {
			slog.Error("failed to setup tracing", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer shutdown(context.Background())
	}

	db, err := database.NewPostgres(conf.Server.PostgresDsn)
	if err != nil {
		slog.Error("failed to connect database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := database.MigratePostgres(db); err != nil {
		slog.Error("failed to migrate database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rdb := database.NewRedis(conf.Server.RedisAddr, conf.Server.RedisPassword, conf.Server.RedisDB)
	mc := database.NewMemcached(conf.Server.MemcachedAddr)

	engine, err := spicedb.New(conf.Authz.Endpoint, conf.Authz.Token, conf.Authz.Plaintext)
	if err != nil {
		slog.Error("failed to connect authorization service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store := repository.NewSpaceStore(db, cache.NewRecordCache(mc))
	reconcileQueue := queue.NewRedisQueue(rdb)
	directory := client.New(conf.NodeInfo.Directory)
	signalService := service.NewSignalService(rdb)

	resolver := usecase.NewIdentityResolver(directory)
	gate := usecase.NewPermissionGate(store, engine)
	writer := usecase.NewDualWriteCoordinator(resolver, gate, store, engine, reconcileQueue, signalService)
	spaceService := usecase.NewSpaceService(store)

	reconciler := service.NewReconcileService(reconcileQueue, engine)
	go reconciler.Run(ctx)

	domainConf := domain.Config{FQDN: conf.NodeInfo.FQDN}
	handler := rest.NewHandler(domainConf, spaceService, writer, signalService)
	requester := middleware.NewRequesterMiddleware(domainConf)

	e := echo.New()
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(otelecho.Middleware("spacehost"))
	e.Use(requester.IdentifyRequester)

	handler.RegisterRoutes(e)

	go func() {
		<-ctx.Done()
		e.Shutdown(context.Background())
	}()

	e.Logger.Fatal(e.Start(":8000"))
}

func setupTrace(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
