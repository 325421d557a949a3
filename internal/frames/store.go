package frames

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Frame is one encoded image pushed by the shell for a capture session.
type Frame struct {
	SessionID string
	Timestamp int64
	Data      []byte
	Width     int
	Height    int
}

// Store keeps a short sliding window of frames per session in a redis sorted
// set scored by capture timestamp, so an analysis triggered moments after a
// frame arrived can still fetch it.
type Store struct {
	redis    *redis.Client
	frameTTL time.Duration
}

func NewStore(redisClient *redis.Client, frameTTL time.Duration) *Store {
	if frameTTL == 0 {
		frameTTL = 60 * time.Second
	}
	return &Store{
		redis:    redisClient,
		frameTTL: frameTTL,
	}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s:frames", sessionID)
}

func (s *Store) StoreFrame(ctx context.Context, frame *Frame) error {
	member := redis.Z{
		Score:  float64(frame.Timestamp),
		Member: frame.Data,
	}

	pipe := s.redis.Pipeline()
	pipe.ZAdd(ctx, sessionKey(frame.SessionID), member)
	pipe.Expire(ctx, sessionKey(frame.SessionID), s.frameTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) GetLatestFrame(ctx context.Context, sessionID string) (*Frame, error) {
	results, err := s.redis.ZRevRangeWithScores(ctx, sessionKey(sessionID), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	data, ok := results[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("invalid frame data type")
	}

	return &Frame{
		SessionID: sessionID,
		Timestamp: int64(results[0].Score),
		Data:      []byte(data),
	}, nil
}

func (s *Store) GetFrames(ctx context.Context, sessionID string, startTime, endTime int64, limit int) ([]*Frame, error) {
	opt := &redis.ZRangeBy{
		Min:   strconv.FormatInt(startTime, 10),
		Max:   strconv.FormatInt(endTime, 10),
		Count: int64(limit),
	}

	results, err := s.redis.ZRangeByScoreWithScores(ctx, sessionKey(sessionID), opt).Result()
	if err != nil {
		return nil, err
	}

	list := make([]*Frame, 0, len(results))
	for _, r := range results {
		data, ok := r.Member.(string)
		if !ok {
			continue
		}
		list = append(list, &Frame{
			SessionID: sessionID,
			Timestamp: int64(r.Score),
			Data:      []byte(data),
		})
	}

	return list, nil
}

func (s *Store) DeleteFrames(ctx context.Context, sessionID string) error {
	return s.redis.Del(ctx, sessionKey(sessionID)).Err()
}
