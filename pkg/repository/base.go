package repository

import (
	"context"

	"github.com/ClaraKoka/cocalc/pkg/types"
)

// ProjectRepository manages the durable project record in Redis. The record
// is the cross-process source of truth for project state: controllers
// persist every transition attempt through it, and any hub replica may read
// it.
type ProjectRepository interface {
	GetProject(ctx context.Context, projectId string) (*types.ProjectRecord, error)
	SaveProject(ctx context.Context, rec *types.ProjectRecord) error
	SaveState(ctx context.Context, projectId string, state types.ProjectState, host string, port, pid int) error
	SaveStatus(ctx context.Context, projectId string, status *types.ProjectStatus) error
	SaveQuota(ctx context.Context, projectId string, quota *types.Quota) error
	SetProjectKeepAlive(ctx context.Context, projectId string) error
	RemoveProject(ctx context.Context, projectId string) error
	ListProjects(ctx context.Context) ([]*types.ProjectRecord, error)
}

// BlobIndex deduplicates save_blob payloads across hub replicas.
type BlobIndex interface {
	MarkBlobSeen(ctx context.Context, hash string) (bool, error)
}
