package hub

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	apiv1 "github.com/ClaraKoka/cocalc/pkg/api/v1"
	"github.com/ClaraKoka/cocalc/pkg/blob"
	"github.com/ClaraKoka/cocalc/pkg/common"
	"github.com/ClaraKoka/cocalc/pkg/project"
	"github.com/ClaraKoka/cocalc/pkg/repository"
	"github.com/ClaraKoka/cocalc/pkg/types"
)

// Hub is the control-plane daemon: it serves the lifecycle HTTP API and the
// project TCP link, sharing one registry of per-project controllers.
type Hub struct {
	Config      types.AppConfig
	RedisClient *common.RedisClient

	repo       *repository.ProjectRedisRepository
	registry   *project.Registry
	backend    project.Backend
	blobStore  blob.Store
	link       *Link
	echo       *echo.Echo
	httpServer *http.Server

	ctx        context.Context
	cancelFunc context.CancelFunc
}

func NewHub() (*Hub, error) {
	configManager, err := common.NewConfigManager[types.AppConfig]()
	if err != nil {
		return nil, err
	}
	config := configManager.GetConfig()

	// Setup logging
	if config.PrettyLogs {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	redisClient, err := common.NewRedisClient(config.Database.Redis)
	if err != nil {
		return nil, err
	}

	blobStore, err := blob.New(config.Blob)
	if err != nil {
		return nil, err
	}

	backend, err := project.NewProcessBackend(config.Hub)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := &Hub{
		Config:      config,
		RedisClient: redisClient,
		repo:        repository.NewProjectRedisRepository(redisClient),
		registry:    project.NewRegistry(),
		backend:     backend,
		blobStore:   blobStore,
		ctx:         ctx,
		cancelFunc:  cancel,
	}

	handlers := &Handlers{
		ProjectsRoot: config.Hub.ProjectsRoot,
		Blobs:        blobStore,
		BlobIndex:    hub.repo,
	}
	hub.link = NewLink(config.Hub, hub.repo, NewDispatcher(handlers))

	return hub, nil
}

// Controller returns the process-local controller for a project, creating
// it on first use. Controllers are held weakly; an unreferenced controller
// may be collected and rebuilt later from the durable record.
func (h *Hub) Controller(projectId string) *project.Controller {
	return h.registry.GetOrCreate(projectId, func() *project.Controller {
		return project.NewController(project.ControllerConfig{
			ProjectId: projectId,
			Repo:      h.repo,
			Backend:   h.backend,
			Host:      h.Config.Hub.Host,
		})
	})
}

func (h *Hub) initHTTP() error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())

	h.echo = e
	h.httpServer = &http.Server{
		Addr:    h.Config.Hub.HTTPAddr,
		Handler: e,
	}

	baseRouteGroup := e.Group(apiv1.HttpServerBaseRoute)

	apiv1.NewHealthGroup(baseRouteGroup.Group("/health"), h.RedisClient)

	projectsGroup := baseRouteGroup.Group("/projects")
	projectsGroup.Use(apiv1.NewAuthMiddleware(h.Config.Hub.AuthToken))
	apiv1.NewProjectsGroup(projectsGroup, h.repo, h.Controller)

	return nil
}

// Start runs the HTTP API and the project link until SIGTERM/SIGINT.
func (h *Hub) Start() error {
	if err := h.initHTTP(); err != nil {
		return fmt.Errorf("failed to initialize http server: %w", err)
	}

	eg, ctx := errgroup.WithContext(h.ctx)

	eg.Go(func() error {
		log.Info().Str("addr", h.Config.Hub.HTTPAddr).Msg("hub http server running")
		if err := h.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		return h.link.Serve(ctx)
	})

	terminationSignal := make(chan os.Signal, 1)
	signal.Notify(terminationSignal, os.Interrupt, syscall.SIGTERM)

	select {
	case <-terminationSignal:
		log.Info().Msg("termination signal received. shutting down...")
	case <-ctx.Done():
	}

	h.shutdown()
	return eg.Wait()
}

func (h *Hub) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), h.Config.Hub.ShutdownTimeout)
	defer cancel()

	if err := h.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}

	h.cancelFunc()
}
