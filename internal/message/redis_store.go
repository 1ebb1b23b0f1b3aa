package message

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisTimeout = 2 * time.Second

// indexKey is the global hash mapping message ID to its stream key.
const indexKey = "signalchat:message_index"

func streamHashKey(streamID string) string {
	return "stream:" + streamID + ":messages"
}

func streamOrderKey(streamID string) string {
	return "stream:" + streamID + ":order"
}

// RedisStore persists messages in Redis: a hash of id to JSON per
// stream plus an order list trimmed to the retention size, and a
// global id-to-stream index for edits and deletes.
type RedisStore struct {
	client  redis.Cmdable
	maxSize int64
	log     *zap.Logger
}

// NewRedisStore creates a RedisStore retaining up to maxSize messages
// per stream. A nil logger discards everything.
func NewRedisStore(client redis.Cmdable, maxSize int, log *zap.Logger) *RedisStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{
		client:  client,
		maxSize: int64(maxSize),
		log:     log,
	}
}

// Append adds a message to its stream, evicting the oldest entries
// beyond the retention size.
func (s *RedisStore) Append(msg *Message) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("marshal message", zap.Error(err))
		return
	}

	key := msg.StreamKey()
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, streamHashKey(key), msg.ID, data)
	pipe.RPush(ctx, streamOrderKey(key), msg.ID)
	pipe.HSet(ctx, indexKey, msg.ID, key)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error("append message", zap.Error(err))
		return
	}

	// Evict overflow one entry at a time; retention sizes are small.
	for {
		n, err := s.client.LLen(ctx, streamOrderKey(key)).Result()
		if err != nil || n <= s.maxSize {
			return
		}
		old, err := s.client.LPop(ctx, streamOrderKey(key)).Result()
		if err != nil {
			return
		}
		s.client.HDel(ctx, streamHashKey(key), old)
		s.client.HDel(ctx, indexKey, old)
	}
}

// Recent returns up to n most recent messages in a stream, oldest first.
func (s *RedisStore) Recent(streamID string, n int) []*Message {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	ids, err := s.client.LRange(ctx, streamOrderKey(streamID), int64(-n), -1).Result()
	if err != nil {
		s.log.Error("read recent ids", zap.Error(err))
		return nil
	}
	if len(ids) == 0 {
		return nil
	}

	msgs := make([]*Message, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.HGet(ctx, streamHashKey(streamID), id).Result()
		if err != nil {
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			continue
		}
		msgs = append(msgs, &m)
	}
	return msgs
}

// load fetches a message and its stream key by ID.
func (s *RedisStore) load(ctx context.Context, id string) (*Message, string) {
	key, err := s.client.HGet(ctx, indexKey, id).Result()
	if err != nil {
		return nil, ""
	}
	data, err := s.client.HGet(ctx, streamHashKey(key), id).Result()
	if err != nil {
		return nil, ""
	}
	var m Message
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		s.log.Error("unmarshal message", zap.String("id", id), zap.Error(err))
		return nil, ""
	}
	return &m, key
}

// store writes a message back to its stream hash.
func (s *RedisStore) store(ctx context.Context, key string, m *Message) bool {
	data, err := json.Marshal(m)
	if err != nil {
		s.log.Error("marshal message", zap.Error(err))
		return false
	}
	if err := s.client.HSet(ctx, streamHashKey(key), m.ID, data).Err(); err != nil {
		s.log.Error("write message", zap.Error(err))
		return false
	}
	return true
}

// Get returns the message with the given ID, or nil.
func (s *RedisStore) Get(id string) *Message {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	m, _ := s.load(ctx, id)
	return m
}

// Edit replaces a message's content in place.
func (s *RedisStore) Edit(id, content string, editedAt time.Time) bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	m, key := s.load(ctx, id)
	if m == nil {
		return false
	}
	m.Content = content
	m.EditedAt = &editedAt
	return s.store(ctx, key, m)
}

// Delete removes a message from its stream and the index.
func (s *RedisStore) Delete(id string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	m, key := s.load(ctx, id)
	if m == nil {
		return false
	}
	pipe := s.client.Pipeline()
	pipe.HDel(ctx, streamHashKey(key), id)
	pipe.LRem(ctx, streamOrderKey(key), 1, id)
	pipe.HDel(ctx, indexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error("delete message", zap.Error(err))
		return false
	}
	return true
}

// AddReaction attaches a reaction, deduplicating per user and emoji.
func (s *RedisStore) AddReaction(id string, r Reaction) bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	m, key := s.load(ctx, id)
	if m == nil {
		return false
	}
	for _, cur := range m.Reactions {
		if cur.UserID == r.UserID && cur.Emoji == r.Emoji {
			return true
		}
	}
	m.Reactions = append(m.Reactions, r)
	return s.store(ctx, key, m)
}

// RemoveReaction detaches a user's reaction by emoji.
func (s *RedisStore) RemoveReaction(id, userID, emoji string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	m, key := s.load(ctx, id)
	if m == nil {
		return false
	}
	kept := m.Reactions[:0]
	for _, cur := range m.Reactions {
		if cur.UserID == userID && cur.Emoji == emoji {
			continue
		}
		kept = append(kept, cur)
	}
	m.Reactions = kept
	return s.store(ctx, key, m)
}

// Count returns the number of stored messages in a stream.
func (s *RedisStore) Count(streamID string) int {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	n, err := s.client.LLen(ctx, streamOrderKey(streamID)).Result()
	if err != nil {
		s.log.Error("count messages", zap.Error(err))
		return 0
	}
	return int(n)
}

// DeleteStream drops a stream's history and its index entries.
func (s *RedisStore) DeleteStream(streamID string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	ids, err := s.client.LRange(ctx, streamOrderKey(streamID), 0, -1).Result()
	if err != nil {
		s.log.Error("read stream ids", zap.Error(err))
		return
	}

	pipe := s.client.Pipeline()
	for _, id := range ids {
		pipe.HDel(ctx, indexKey, id)
	}
	pipe.Del(ctx, streamHashKey(streamID), streamOrderKey(streamID))
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error("delete stream", zap.Error(err))
	}
}
