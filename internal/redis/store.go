package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roomhub/groupcall/internal/models"
)

const (
	roomCodeLength = 6
	roomTTL        = 24 * time.Hour
	presenceTTL    = 24 * time.Hour
)

var ErrRoomNotFound = errors.New("room not found")

// Store keeps room provisioning metadata and live presence in Redis.
// Keys: room:<id> metadata, code:<code> -> id, room:<id>:peers presence set.
type Store struct {
	c *redis.Client
}

func NewStore(c *redis.Client) *Store {
	return &Store{c: c}
}

// CreateRoom persists the metadata and its code lookup.
func (s *Store) CreateRoom(ctx context.Context, room models.RoomMetadata) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	if err := s.c.Set(ctx, "room:"+room.ID, data, roomTTL).Err(); err != nil {
		return fmt.Errorf("store room: %w", err)
	}
	if err := s.c.Set(ctx, "code:"+room.Code, room.ID, roomTTL).Err(); err != nil {
		return fmt.Errorf("store room code: %w", err)
	}
	return nil
}

// GetRoom looks metadata up by id or shareable code and fills in the
// current participant count from presence.
func (s *Store) GetRoom(ctx context.Context, identifier string) (*models.RoomMetadata, error) {
	id, err := s.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}

	data, err := s.c.Get(ctx, "room:"+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRoomNotFound
	} else if err != nil {
		return nil, err
	}

	var room models.RoomMetadata
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("parse room metadata: %w", err)
	}

	count, err := s.Count(ctx, id)
	if err == nil {
		room.ParticipantCount = int(count)
	}
	return &room, nil
}

// DeleteRoom removes the metadata, code mapping and presence set.
func (s *Store) DeleteRoom(ctx context.Context, room models.RoomMetadata) error {
	s.c.Del(ctx, "room:"+room.ID)
	s.c.Del(ctx, "code:"+room.Code)
	s.c.Del(ctx, "room:"+room.ID+":peers")
	return nil
}

// Resolve maps a shareable code to its room id. Identifiers that are not
// known codes pass through unchanged, so ad hoc room names keep working.
func (s *Store) Resolve(ctx context.Context, identifier string) (string, error) {
	if len(identifier) != roomCodeLength {
		return identifier, nil
	}
	id, err := s.c.Get(ctx, "code:"+identifier).Result()
	if errors.Is(err, redis.Nil) {
		return identifier, nil
	} else if err != nil {
		return identifier, err
	}
	return id, nil
}

func (s *Store) Joined(ctx context.Context, roomName, participantID string) error {
	key := "room:" + roomName + ":peers"
	if err := s.c.SAdd(ctx, key, participantID).Err(); err != nil {
		return err
	}
	return s.c.Expire(ctx, key, presenceTTL).Err()
}

func (s *Store) Left(ctx context.Context, roomName, participantID string) error {
	return s.c.SRem(ctx, "room:"+roomName+":peers", participantID).Err()
}

func (s *Store) Count(ctx context.Context, roomName string) (int64, error) {
	return s.c.SCard(ctx, "room:"+roomName+":peers").Result()
}
