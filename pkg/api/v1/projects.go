package apiv1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/ClaraKoka/cocalc/pkg/project"
	"github.com/ClaraKoka/cocalc/pkg/repository"
	"github.com/ClaraKoka/cocalc/pkg/types"
)

// ControllerProvider hands out the process-local controller for a project.
type ControllerProvider func(projectId string) *project.Controller

type ProjectsGroup struct {
	routerGroup *echo.Group
	repo        repository.ProjectRepository
	controllers ControllerProvider
}

func NewProjectsGroup(g *echo.Group, repo repository.ProjectRepository, controllers ControllerProvider) *ProjectsGroup {
	group := &ProjectsGroup{
		routerGroup: g,
		repo:        repo,
		controllers: controllers,
	}
	group.registerRoutes()
	return group
}

func (g *ProjectsGroup) registerRoutes() {
	g.routerGroup.GET("", g.ListProjects)
	g.routerGroup.GET("/:project_id/state", g.GetState)
	g.routerGroup.GET("/:project_id/status", g.GetStatus)
	g.routerGroup.GET("/:project_id/address", g.GetAddress)
	g.routerGroup.POST("/:project_id/start", g.StartProject)
	g.routerGroup.POST("/:project_id/stop", g.StopProject)
	g.routerGroup.POST("/:project_id/restart", g.RestartProject)
	g.routerGroup.POST("/:project_id/copy", g.CopyPath)
	g.routerGroup.POST("/:project_id/quotas", g.SetQuotas)
}

func isTimeout(err error) bool {
	var timeout *types.ErrProjectTimeout
	return errors.As(err, &timeout)
}

func (g *ProjectsGroup) controller(c echo.Context) (*project.Controller, error) {
	projectId := c.Param("project_id")
	if projectId == "" {
		return nil, ErrorResponse(c, http.StatusBadRequest, "project_id required")
	}
	return g.controllers(projectId), nil
}

func (g *ProjectsGroup) ListProjects(c echo.Context) error {
	records, err := g.repo.ListProjects(c.Request().Context())
	if err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, err.Error())
	}
	return SuccessResponse(c, records)
}

func (g *ProjectsGroup) GetState(c echo.Context) error {
	ctrl, err := g.controller(c)
	if ctrl == nil {
		return err
	}

	state, err := ctrl.State(c.Request().Context())
	if err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, err.Error())
	}
	return SuccessResponse(c, map[string]string{"state": string(state)})
}

func (g *ProjectsGroup) GetStatus(c echo.Context) error {
	ctrl, err := g.controller(c)
	if ctrl == nil {
		return err
	}

	status, err := ctrl.Status(c.Request().Context())
	if err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, err.Error())
	}
	return SuccessResponse(c, status)
}

// GetAddress starts the project if needed and returns its connection
// coordinates. The secret token is part of the payload, so this route must
// stay behind auth.
func (g *ProjectsGroup) GetAddress(c echo.Context) error {
	ctrl, err := g.controller(c)
	if ctrl == nil {
		return err
	}

	address, err := ctrl.Address(c.Request().Context())
	if err != nil {
		if isTimeout(err) {
			return ErrorResponse(c, http.StatusGatewayTimeout, err.Error())
		}
		return ErrorResponse(c, http.StatusInternalServerError, err.Error())
	}
	return SuccessResponse(c, address)
}

func (g *ProjectsGroup) StartProject(c echo.Context) error {
	ctrl, err := g.controller(c)
	if ctrl == nil {
		return err
	}

	if err := ctrl.Start(c.Request().Context()); err != nil {
		if isTimeout(err) {
			return ErrorResponse(c, http.StatusGatewayTimeout, err.Error())
		}
		return ErrorResponse(c, http.StatusInternalServerError, err.Error())
	}

	log.Info().Str("project_id", ctrl.ProjectId()).Msg("project started via api")
	return SuccessResponse(c, map[string]string{"state": string(types.ProjectStateRunning)})
}

func (g *ProjectsGroup) StopProject(c echo.Context) error {
	ctrl, err := g.controller(c)
	if ctrl == nil {
		return err
	}

	if err := ctrl.Stop(c.Request().Context()); err != nil {
		if isTimeout(err) {
			return ErrorResponse(c, http.StatusGatewayTimeout, err.Error())
		}
		return ErrorResponse(c, http.StatusInternalServerError, err.Error())
	}

	log.Info().Str("project_id", ctrl.ProjectId()).Msg("project stopped via api")
	return SuccessResponse(c, map[string]string{"state": string(types.ProjectStateOpened)})
}

func (g *ProjectsGroup) RestartProject(c echo.Context) error {
	ctrl, err := g.controller(c)
	if ctrl == nil {
		return err
	}

	if err := ctrl.Restart(c.Request().Context()); err != nil {
		if isTimeout(err) {
			return ErrorResponse(c, http.StatusGatewayTimeout, err.Error())
		}
		return ErrorResponse(c, http.StatusInternalServerError, err.Error())
	}

	log.Info().Str("project_id", ctrl.ProjectId()).Msg("project restarted via api")
	return SuccessResponse(c, map[string]string{"state": string(types.ProjectStateRunning)})
}

func (g *ProjectsGroup) CopyPath(c echo.Context) error {
	ctrl, err := g.controller(c)
	if ctrl == nil {
		return err
	}

	var opts types.CopyOptions
	if err := c.Bind(&opts); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "invalid request body")
	}
	if opts.Path == "" {
		return ErrorResponse(c, http.StatusBadRequest, "path is required")
	}

	copyId, err := ctrl.CopyPath(c.Request().Context(), opts)
	if err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, err.Error())
	}
	return SuccessResponse(c, map[string]string{"copy_id": copyId})
}

// SetQuotas recomputes the project's quota from its stored settings and,
// when the result changed for an active project, kicks off a background
// restart. The call itself returns right away.
func (g *ProjectsGroup) SetQuotas(c echo.Context) error {
	ctrl, err := g.controller(c)
	if ctrl == nil {
		return err
	}

	if err := ctrl.SetAllQuotas(c.Request().Context()); err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, err.Error())
	}
	return SuccessResponse(c, map[string]string{"status": "ok"})
}
