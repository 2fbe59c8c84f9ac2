package presence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"roomchat/internal/models"
)

const presenceTTL = 24 * time.Hour

// setBeacon stores "<present>:<ts>" unless a newer beacon is already stored.
var setBeacon = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur then
  local sep = string.find(cur, ':')
  if sep and tonumber(string.sub(cur, sep + 1)) > tonumber(ARGV[3]) then
    return 0
  end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2] .. ':' .. ARGV[3])
redis.call('EXPIRE', KEYS[1], ARGV[4])
return 1
`)

// RedisStore keeps beacons in one hash per room.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func presenceKey(roomID string) string {
	return fmt.Sprintf("presence:%s", roomID)
}

func (s *RedisStore) Set(ctx context.Context, beacon models.PresenceBeacon) error {
	flag := "0"
	if beacon.Present {
		flag = "1"
	}
	return setBeacon.Run(ctx, s.client, []string{presenceKey(beacon.RoomID)},
		beacon.UserID, flag, beacon.Timestamp, int(presenceTTL.Seconds())).Err()
}

func (s *RedisStore) Online(ctx context.Context, roomID string) (int, error) {
	values, err := s.client.HVals(ctx, presenceKey(roomID)).Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	n := 0
	for _, v := range values {
		if strings.HasPrefix(v, "1:") {
			n++
		}
	}
	return n, nil
}
