package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/dermaglow/resolve/internal/models"
)

const redisTaskPrefix = "resolve:task"

// RedisStore is a TaskStore backed by Redis. Task records survive process
// restarts; retention is enforced with native key TTLs, so DeleteExpired is
// a no-op here.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore creates a Redis-backed task store
func NewRedisStore(client *redis.Client, logger *slog.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		logger: logger.With("component", "task_store"),
	}, nil
}

func redisTaskKey(taskID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", redisTaskPrefix, taskID)
}

func (s *RedisStore) Create(ctx context.Context, task *models.ProcessingTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return NewTaskOperationError("create", task.TaskID, err)
	}
	if err := s.client.Set(ctx, redisTaskKey(task.TaskID), data, 0).Err(); err != nil {
		return NewTaskOperationError("create", task.TaskID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, taskID uuid.UUID) (*models.ProcessingTask, error) {
	data, err := s.client.Get(ctx, redisTaskKey(taskID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrTaskNotFound
		}
		return nil, NewTaskOperationError("get", taskID, err)
	}

	var task models.ProcessingTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, NewTaskOperationError("get", taskID, err)
	}
	return &task, nil
}

func (s *RedisStore) Update(ctx context.Context, task *models.ProcessingTask, retention time.Duration) error {
	data, err := json.Marshal(task)
	if err != nil {
		return NewTaskOperationError("update", task.TaskID, err)
	}

	key := redisTaskKey(task.TaskID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return NewTaskOperationError("update", task.TaskID, err)
	}
	if exists == 0 {
		return ErrTaskNotFound
	}

	ttl := time.Duration(0)
	if task.Status.IsTerminal() && retention > 0 {
		ttl = retention
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return NewTaskOperationError("update", task.TaskID, err)
	}
	return nil
}

func (s *RedisStore) DeleteExpired(_ context.Context, _ time.Time) (int, error) {
	// Redis expires terminal tasks via key TTL
	return 0, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
