package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ClaraKoka/cocalc/pkg/common"
	"github.com/ClaraKoka/cocalc/pkg/types"
	"github.com/redis/go-redis/v9"
)

// ProjectRedisRepository implements ProjectRepository using Redis hashes,
// one per project id, plus an index set for enumeration.
type ProjectRedisRepository struct {
	rdb  *common.RedisClient
	lock *common.RedisLock
}

func NewProjectRedisRepository(rdb *common.RedisClient) *ProjectRedisRepository {
	return &ProjectRedisRepository{
		rdb:  rdb,
		lock: common.NewRedisLock(rdb),
	}
}

func (r *ProjectRedisRepository) SaveProject(ctx context.Context, rec *types.ProjectRecord) error {
	lockKey := common.Keys.ProjectLock(rec.Id)
	if err := r.lock.Acquire(ctx, lockKey, common.RedisLockOptions{TtlS: 10, Retries: 3}); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	defer r.lock.Release(lockKey)

	stateKey := common.Keys.ProjectState(rec.Id)
	indexKey := common.Keys.ProjectIndex()

	if err := r.rdb.SAdd(ctx, indexKey, stateKey).Err(); err != nil {
		return fmt.Errorf("index: %w", err)
	}

	settings, err := json.Marshal(rec.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	users, err := json.Marshal(rec.Users)
	if err != nil {
		return fmt.Errorf("marshal users: %w", err)
	}
	licenses, err := json.Marshal(rec.Licenses)
	if err != nil {
		return fmt.Errorf("marshal licenses: %w", err)
	}
	site, err := json.Marshal(rec.SiteSettings)
	if err != nil {
		return fmt.Errorf("marshal site settings: %w", err)
	}
	lastQuota := []byte("")
	if rec.LastQuota != nil {
		if lastQuota, err = json.Marshal(rec.LastQuota); err != nil {
			return fmt.Errorf("marshal quota: %w", err)
		}
	}

	if err := r.rdb.HSet(ctx, stateKey,
		"id", rec.Id,
		"state", string(rec.State),
		"host", rec.Host,
		"port", rec.Port,
		"pid", rec.PID,
		"secret_token", rec.SecretToken,
		"settings", string(settings),
		"users", string(users),
		"licenses", string(licenses),
		"site_settings", string(site),
		"last_quota", string(lastQuota),
		"state_changed_at", rec.StateChangedAt.Unix(),
		"last_seen_at", time.Now().Unix(),
	).Err(); err != nil {
		return fmt.Errorf("state: %w", err)
	}

	return r.rdb.Expire(ctx, stateKey, types.ProjectStateTTL).Err()
}

func (r *ProjectRedisRepository) SaveState(ctx context.Context, projectId string, state types.ProjectState, host string, port, pid int) error {
	lockKey := common.Keys.ProjectLock(projectId)
	if err := r.lock.Acquire(ctx, lockKey, common.RedisLockOptions{TtlS: 10, Retries: 3}); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	defer r.lock.Release(lockKey)

	stateKey := common.Keys.ProjectState(projectId)
	if err := r.rdb.SAdd(ctx, common.Keys.ProjectIndex(), stateKey).Err(); err != nil {
		return fmt.Errorf("index: %w", err)
	}

	if err := r.rdb.HSet(ctx, stateKey,
		"id", projectId,
		"state", string(state),
		"host", host,
		"port", port,
		"pid", pid,
		"state_changed_at", time.Now().Unix(),
		"last_seen_at", time.Now().Unix(),
	).Err(); err != nil {
		return fmt.Errorf("state: %w", err)
	}

	return r.rdb.Expire(ctx, stateKey, types.ProjectStateTTL).Err()
}

func (r *ProjectRedisRepository) SaveStatus(ctx context.Context, projectId string, status *types.ProjectStatus) error {
	stateKey := common.Keys.ProjectState(projectId)

	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	fields := []interface{}{
		"status", string(data),
		"state", string(status.State),
		"pid", status.PID,
		"port", status.Port,
		"last_seen_at", time.Now().Unix(),
	}
	if status.SecretToken != "" {
		fields = append(fields, "secret_token", status.SecretToken)
	}

	if err := r.rdb.HSet(ctx, stateKey, fields...).Err(); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	return r.rdb.Expire(ctx, stateKey, types.ProjectStateTTL).Err()
}

func (r *ProjectRedisRepository) SaveQuota(ctx context.Context, projectId string, quota *types.Quota) error {
	lockKey := common.Keys.ProjectLock(projectId)
	if err := r.lock.Acquire(ctx, lockKey, common.RedisLockOptions{TtlS: 10, Retries: 3}); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	defer r.lock.Release(lockKey)

	data, err := json.Marshal(quota)
	if err != nil {
		return fmt.Errorf("marshal quota: %w", err)
	}

	stateKey := common.Keys.ProjectState(projectId)
	if err := r.rdb.HSet(ctx, stateKey, "last_quota", string(data)).Err(); err != nil {
		return fmt.Errorf("quota: %w", err)
	}
	return r.rdb.Expire(ctx, stateKey, types.ProjectStateTTL).Err()
}

func (r *ProjectRedisRepository) SetProjectKeepAlive(ctx context.Context, projectId string) error {
	stateKey := common.Keys.ProjectState(projectId)
	if err := r.rdb.HSet(ctx, stateKey, "last_seen_at", time.Now().Unix()).Err(); err != nil {
		return err
	}
	return r.rdb.Expire(ctx, stateKey, types.ProjectStateTTL).Err()
}

func (r *ProjectRedisRepository) RemoveProject(ctx context.Context, projectId string) error {
	lockKey := common.Keys.ProjectLock(projectId)
	if err := r.lock.Acquire(ctx, lockKey, common.RedisLockOptions{TtlS: 10, Retries: 3}); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	defer r.lock.Release(lockKey)

	stateKey := common.Keys.ProjectState(projectId)
	r.rdb.SRem(ctx, common.Keys.ProjectIndex(), stateKey)
	return r.rdb.Del(ctx, stateKey).Err()
}

func (r *ProjectRedisRepository) GetProject(ctx context.Context, projectId string) (*types.ProjectRecord, error) {
	return r.loadProject(ctx, common.Keys.ProjectState(projectId))
}

func (r *ProjectRedisRepository) ListProjects(ctx context.Context) ([]*types.ProjectRecord, error) {
	indexKey := common.Keys.ProjectIndex()
	keys, err := r.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}

	projects := make([]*types.ProjectRecord, 0, len(keys))
	for _, key := range keys {
		rec, err := r.loadProject(ctx, key)
		if err != nil {
			r.rdb.SRem(ctx, indexKey, key) // cleanup stale
			continue
		}
		projects = append(projects, rec)
	}
	return projects, nil
}

// MarkBlobSeen records the hash and reports whether it was already known.
func (r *ProjectRedisRepository) MarkBlobSeen(ctx context.Context, hash string) (bool, error) {
	set, err := r.rdb.SetNX(ctx, common.Keys.BlobSeen(hash), 1, types.ProjectStateTTL).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

func (r *ProjectRedisRepository) loadProject(ctx context.Context, key string) (*types.ProjectRecord, error) {
	data, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, &types.MetadataNotFoundError{Key: key}
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, &types.MetadataNotFoundError{Key: key}
	}

	rec := &types.ProjectRecord{
		Id:          data["id"],
		State:       types.ProjectState(data["state"]),
		Host:        data["host"],
		SecretToken: data["secret_token"],
	}
	rec.Port, _ = strconv.Atoi(data["port"])
	rec.PID, _ = strconv.Atoi(data["pid"])

	if ts, err := strconv.ParseInt(data["state_changed_at"], 10, 64); err == nil {
		rec.StateChangedAt = time.Unix(ts, 0)
	}
	if ts, err := strconv.ParseInt(data["last_seen_at"], 10, 64); err == nil {
		rec.LastSeenAt = time.Unix(ts, 0)
	}

	if raw := data["settings"]; raw != "" {
		json.Unmarshal([]byte(raw), &rec.Settings)
	}
	if raw := data["users"]; raw != "" {
		json.Unmarshal([]byte(raw), &rec.Users)
	}
	if raw := data["licenses"]; raw != "" {
		json.Unmarshal([]byte(raw), &rec.Licenses)
	}
	if raw := data["site_settings"]; raw != "" {
		json.Unmarshal([]byte(raw), &rec.SiteSettings)
	}
	if raw := data["last_quota"]; raw != "" {
		var q types.Quota
		if err := json.Unmarshal([]byte(raw), &q); err == nil {
			rec.LastQuota = &q
		}
	}

	return rec, nil
}
