package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Store 跨进程会话状态存储
// 每个机器人运行时（线程或子进程）都通过它读写同一个用户的向导状态，
// 因此一段会话可以被不同的 worker 接续处理。
// 读写都直接走 Redis，进程之间没有各自的副本；条目 24 小时过期。
type Store struct {
	redisClient *redis.Client
	keyPrefix   string
	ttl         time.Duration
	logger      *zap.Logger
}

// NewStore 创建状态存储
func NewStore(redisClient *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		ttl:         ttl,
		logger:      logger,
	}
}

// key 状态键：<prefix><tenant_id>:<user_id>
func (s *Store) key(tenantID, userID int64) string {
	return fmt.Sprintf("%s%d:%d", s.keyPrefix, tenantID, userID)
}

// Get 读取用户当前状态；首次访问返回空状态
// 每次都读 Redis，别的进程刚写入的状态（比如已登记的待付款订单）立即可见。
func (s *Store) Get(ctx context.Context, tenantID, userID int64) (*ConversationState, error) {
	key := s.key(tenantID, userID)

	val, err := s.redisClient.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return &ConversationState{}, nil
		}
		return nil, fmt.Errorf("failed to get state: %w", err)
	}

	state := &ConversationState{}
	if err := json.Unmarshal([]byte(val), state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return state, nil
}

// Mutate 读取-修改-写穿一个用户的状态
// 字段级一致性为 last-write-wins，不提供多字段原子性。
func (s *Store) Mutate(ctx context.Context, tenantID, userID int64, fn func(state *ConversationState)) error {
	key := s.key(tenantID, userID)

	state := &ConversationState{}
	val, err := s.redisClient.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to get state: %w", err)
	}
	if err == nil {
		if err := json.Unmarshal([]byte(val), state); err != nil {
			return fmt.Errorf("failed to unmarshal state: %w", err)
		}
	}

	fn(state)

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := s.redisClient.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set state: %w", err)
	}

	s.logger.Debug("State updated",
		zap.Int64("tenant_id", tenantID),
		zap.Int64("user_id", userID),
	)

	return nil
}

// Set 写入扩展字段
func (s *Store) Set(ctx context.Context, tenantID, userID int64, field string, value any) error {
	return s.Mutate(ctx, tenantID, userID, func(state *ConversationState) {
		if state.Extra == nil {
			state.Extra = make(map[string]any)
		}
		state.Extra[field] = value
	})
}

// AddFileID 追加一个上传文件 ID（去重）
func (s *Store) AddFileID(ctx context.Context, tenantID, userID int64, fileID string) error {
	if fileID == "" {
		return nil
	}
	return s.Mutate(ctx, tenantID, userID, func(state *ConversationState) {
		for _, id := range state.UploadedFileIDs {
			if id == fileID {
				return
			}
		}
		state.UploadedFileIDs = append(state.UploadedFileIDs, fileID)
	})
}

// AddMessageID 记录一个待清理消息 ID（去重）
func (s *Store) AddMessageID(ctx context.Context, tenantID, userID int64, messageID int64) error {
	if messageID == 0 {
		return nil
	}
	return s.Mutate(ctx, tenantID, userID, func(state *ConversationState) {
		for _, id := range state.MessageIDs {
			if id == messageID {
				return
			}
		}
		state.MessageIDs = append(state.MessageIDs, messageID)
	})
}

// Clear 清除向导状态（完成或取消后调用）
// 只清向导字段，用户身份数据不受影响
func (s *Store) Clear(ctx context.Context, tenantID, userID int64) error {
	key := s.key(tenantID, userID)
	if err := s.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to clear state: %w", err)
	}
	return nil
}
