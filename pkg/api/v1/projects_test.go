package apiv1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClaraKoka/cocalc/pkg/project"
	"github.com/ClaraKoka/cocalc/pkg/repository"
	"github.com/ClaraKoka/cocalc/pkg/types"
)

// stubBackend is an always-cooperative sandbox: BringUp makes it ready,
// TearDown makes it gone.
type stubBackend struct {
	running bool
}

func (s *stubBackend) BringUp(ctx context.Context, rec *types.ProjectRecord) error {
	s.running = true
	return nil
}

func (s *stubBackend) TearDown(ctx context.Context, rec *types.ProjectRecord, signal int) error {
	s.running = false
	return nil
}

func (s *stubBackend) Probe(ctx context.Context, projectId string) (*project.ProbeResult, error) {
	if !s.running {
		return &project.ProbeResult{}, nil
	}
	return &project.ProbeResult{
		Running:     true,
		PID:         4242,
		Port:        34567,
		SecretToken: "0123456789abcdef0123456789abcdef",
		StartedAt:   time.Now(),
	}, nil
}

func (s *stubBackend) CopyPath(ctx context.Context, projectId string, opts types.CopyOptions) (string, error) {
	return "", nil
}

func newAPIForTest(t *testing.T, authToken string) *echo.Echo {
	t.Helper()

	rdb, err := repository.NewRedisClientForTest()
	require.NoError(t, err)
	repo := repository.NewProjectRedisRepositoryForTest(rdb)

	registry := project.NewRegistry()
	backend := &stubBackend{}
	provider := func(projectId string) *project.Controller {
		return registry.GetOrCreate(projectId, func() *project.Controller {
			return project.NewController(project.ControllerConfig{
				ProjectId: projectId,
				Repo:      repo,
				Backend:   backend,
				Host:      "hub-1",
			})
		})
	}

	e := echo.New()
	group := e.Group(HttpServerBaseRoute + "/projects")
	group.Use(NewAuthMiddleware(authToken))
	NewProjectsGroup(group, repo, provider)
	return e
}

func request(e *echo.Echo, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()

	var resp struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
		Error   string            `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success, "unexpected error: %s", resp.Error)
	return resp.Data
}

func TestProjectsAPIRequiresToken(t *testing.T) {
	e := newAPIForTest(t, "hub-token")

	rec := request(e, http.MethodGet, "/api/v1/projects/proj-a/state", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = request(e, http.MethodGet, "/api/v1/projects/proj-a/state", "wrong-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProjectsAPIStateAndStartFlow(t *testing.T) {
	e := newAPIForTest(t, "hub-token")

	rec := request(e, http.MethodGet, "/api/v1/projects/proj-a/state", "hub-token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(types.ProjectStateOpened), decodeData(t, rec)["state"])

	rec = request(e, http.MethodPost, "/api/v1/projects/proj-a/start", "hub-token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(types.ProjectStateRunning), decodeData(t, rec)["state"])

	rec = request(e, http.MethodGet, "/api/v1/projects/proj-a/state", "hub-token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(types.ProjectStateRunning), decodeData(t, rec)["state"])

	rec = request(e, http.MethodPost, "/api/v1/projects/proj-a/stop", "hub-token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(types.ProjectStateOpened), decodeData(t, rec)["state"])
}

func TestProjectsAPIAddress(t *testing.T) {
	e := newAPIForTest(t, "")

	rec := request(e, http.MethodGet, "/api/v1/projects/proj-a/address", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data types.ProjectAddress `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hub-1", resp.Data.Host)
	assert.Equal(t, 34567, resp.Data.Port)
	assert.NotEmpty(t, resp.Data.SecretToken)
}
