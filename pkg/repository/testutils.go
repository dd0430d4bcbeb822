package repository

import (
	"github.com/ClaraKoka/cocalc/pkg/common"
	"github.com/ClaraKoka/cocalc/pkg/types"
	"github.com/alicebob/miniredis/v2"
)

// NewRedisClientForTest creates a Redis client backed by miniredis for testing
func NewRedisClientForTest() (*common.RedisClient, error) {
	s, err := miniredis.Run()
	if err != nil {
		return nil, err
	}

	rdb, err := common.NewRedisClient(types.RedisConfig{
		Addrs: []string{s.Addr()},
		Mode:  types.RedisModeSingle,
	})
	if err != nil {
		return nil, err
	}

	return rdb, nil
}

// NewProjectRedisRepositoryForTest creates a ProjectRepository backed by miniredis
func NewProjectRedisRepositoryForTest(rdb *common.RedisClient) *ProjectRedisRepository {
	return NewProjectRedisRepository(rdb)
}
