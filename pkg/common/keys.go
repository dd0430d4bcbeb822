package common

import "fmt"

var (
	// Project record keys
	projectPrefix string = "project"
	projectState  string = "project:state:%s" // projectId
	projectLock   string = "project:lock:%s"  // projectId
	projectIndex  string = "project:index"

	// Blob keys
	blobSeen string = "blob:seen:%s" // sha1hash
)

var Keys = &redisKeys{}

type redisKeys struct{}

// Project keys
func (rk *redisKeys) ProjectPrefix() string {
	return projectPrefix
}

func (rk *redisKeys) ProjectState(projectId string) string {
	return fmt.Sprintf(projectState, projectId)
}

func (rk *redisKeys) ProjectLock(projectId string) string {
	return fmt.Sprintf(projectLock, projectId)
}

func (rk *redisKeys) ProjectIndex() string {
	return projectIndex
}

// Blob keys
func (rk *redisKeys) BlobSeen(hash string) string {
	return fmt.Sprintf(blobSeen, hash)
}
