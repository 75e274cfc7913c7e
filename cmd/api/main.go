package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-collab-go/internal/blob"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/chat"
	chatrepo "github.com/ovaphlow/pitchfork/service-collab-go/internal/chat/repo"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/identity"
	identityrepo "github.com/ovaphlow/pitchfork/service-collab-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/mailer"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/project"
	projectrepo "github.com/ovaphlow/pitchfork/service-collab-go/internal/project/repo"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/recovery"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/task"
	taskrepo "github.com/ovaphlow/pitchfork/service-collab-go/internal/task/repo"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-collab-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-collab-go/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	// init logger
	lg, err := utilities.InitLogger(utilities.LogConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-collab-go")

	// init db
	cfg := database.ConfigFromEnv()
	sqlDB, err := database.Connect(cfg)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	// wrap with sqlx for convenience in repos/services; closing the sqlx
	// handle closes the underlying *sql.DB
	sqlxDB := sqlx.NewDb(sqlDB, "postgres")
	defer sqlxDB.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// repositories
	identities := identityrepo.NewIdentityRepo(sqlxDB)
	projects := projectrepo.NewProjectRepo(sqlxDB)
	tasks := taskrepo.NewTaskRepo(sqlxDB)
	messages := chatrepo.NewMessageRepo(sqlxDB)
	for _, ensure := range []func(context.Context) error{
		identities.EnsureTable, projects.EnsureTable, tasks.EnsureTable, messages.EnsureTable,
	} {
		if err := ensure(ctx); err != nil {
			sugar.Fatalf("ensure table: %v", err)
		}
	}

	// services
	hasher := identity.BcryptHasher{Cost: 12}
	identitySvc := identity.NewService(identities, hasher)
	tokenSvc, err := token.NewService(token.ConfigFromEnv(), identities)
	if err != nil {
		sugar.Fatalf("token service: %v", err)
	}
	recoverySvc := recovery.NewService(identities, hasher)
	projectSvc := project.NewService(projects)
	taskSvc := task.NewService(tasks, projectSvc)
	mail := mailer.LogMailer{Logger: sugar}

	// blob store: local stand-in for the external object store
	blobDir := os.Getenv("BLOB_DIR")
	if blobDir == "" {
		blobDir = "./data/blobs"
	}
	blobBase := os.Getenv("BLOB_BASE_URL")
	if blobBase == "" {
		blobBase = "http://localhost:8433/blobs"
	}
	blobs := blob.LocalStore{Dir: blobDir, BaseURL: blobBase}

	// realtime gateway: constructed once here, run for the process lifetime
	gateway := chat.NewGateway(sugar, tokenSvc, identities, projectSvc, messages)
	go gateway.Run(ctx)

	handler := router.RegisterRoutes(sugar, router.Handlers{
		Identity: identity.NewHandler(identitySvc, tokenSvc, recoverySvc, mail, blobs, identity.CookieConfigFromEnv(), sugar),
		Project:  project.NewHandler(projectSvc, blobs, sugar),
		Task:     task.NewHandler(taskSvc, sugar),
		Chat:     chat.NewHandler(messages, projectSvc, sugar),
		Gateway:  gateway,
		Tokens:   tokenSvc,
	})

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8433"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	sugar.Infow("service is running; press Ctrl+C to stop", "addr", addr)

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// ping db once more
	if err := sqlDB.PingContext(doneCtx); err != nil {
		sugar.Warnf("db ping on shutdown failed: %v", err)
	}

	// shutdown http server
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
