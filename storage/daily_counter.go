package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"progression-gate/models"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GrantKey identifies one daily grant bucket. Day is YYYY-MM-DD in the
// progression reference timezone.
type GrantKey struct {
	UserID string
	Action string
	Day    string
}

// DailyCounter tracks how many times an action granted EXP to a user on a
// given day.
type DailyCounter interface {
	// Claim increments the bucket unless it already holds limit grants
	// (limit 0 means unbounded). tx is the caller's open transaction;
	// backends outside the database ignore it.
	Claim(ctx context.Context, tx *gorm.DB, key GrantKey, limit int) (bool, error)
	// Release undoes a Claim whose surrounding transaction failed. Backends
	// that took part in the transaction treat it as a no-op.
	Release(ctx context.Context, key GrantKey) error
	// Counts returns action → grants for the user's day.
	Counts(ctx context.Context, userID, day string) (map[string]int, error)
}

// GormDailyCounter keeps buckets in the daily_exp_grants table, inside the
// caller's transaction.
type GormDailyCounter struct {
	DB *gorm.DB
}

func NewGormDailyCounter(db *gorm.DB) *GormDailyCounter {
	return &GormDailyCounter{DB: db}
}

func (c *GormDailyCounter) Claim(ctx context.Context, tx *gorm.DB, key GrantKey, limit int) (bool, error) {
	if tx == nil {
		tx = c.DB
	}
	tx = tx.WithContext(ctx)

	bucket := models.DailyEXPGrant{
		ExternalUserID: key.UserID,
		Action:         key.Action,
		Day:            key.Day,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&bucket).Error; err != nil {
		return false, fmt.Errorf("init grant bucket: %w", err)
	}

	q := tx.Model(&models.DailyEXPGrant{}).
		Where("external_user_id = ? AND action = ? AND day = ?", key.UserID, key.Action, key.Day)
	if limit > 0 {
		q = q.Where("grants < ?", limit)
	}
	res := q.Updates(map[string]interface{}{
		"grants":     gorm.Expr("grants + 1"),
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return false, fmt.Errorf("claim grant: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (c *GormDailyCounter) Release(context.Context, GrantKey) error { return nil }

func (c *GormDailyCounter) Counts(ctx context.Context, userID, day string) (map[string]int, error) {
	var rows []models.DailyEXPGrant
	if err := c.DB.WithContext(ctx).
		Where("external_user_id = ? AND day = ?", userID, day).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Action] = r.Grants
	}
	return out, nil
}

// PurgeBefore deletes buckets for days strictly before day.
func (c *GormDailyCounter) PurgeBefore(ctx context.Context, day string) (int64, error) {
	res := c.DB.WithContext(ctx).Where("day < ?", day).Delete(&models.DailyEXPGrant{})
	return res.RowsAffected, res.Error
}

// RedisDailyCounter keeps one hash per (user, day) with a field per action.
// Hashes expire on their own once the day is over.
type RedisDailyCounter struct {
	Client *redis.Client
	TTL    time.Duration
}

// bucketTTL outlives any single day in any timezone.
const bucketTTL = 48 * time.Hour

func NewRedisDailyCounter(client *redis.Client) *RedisDailyCounter {
	return &RedisDailyCounter{Client: client, TTL: bucketTTL}
}

var claimScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local current = tonumber(redis.call('HGET', KEYS[1], ARGV[2]) or '0')
if limit > 0 and current >= limit then
  return 0
end
redis.call('HINCRBY', KEYS[1], ARGV[2], 1)
if redis.call('TTL', KEYS[1]) < 0 then
  redis.call('EXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

func redisGrantKey(userID, day string) string {
	return "progression:grants:" + userID + ":" + day
}

func (c *RedisDailyCounter) Claim(ctx context.Context, _ *gorm.DB, key GrantKey, limit int) (bool, error) {
	ok, err := claimScript.Run(ctx, c.Client,
		[]string{redisGrantKey(key.UserID, key.Day)},
		limit, key.Action, int(c.TTL/time.Second),
	).Int()
	if err != nil {
		return false, fmt.Errorf("claim grant: %w", err)
	}
	return ok == 1, nil
}

func (c *RedisDailyCounter) Release(ctx context.Context, key GrantKey) error {
	return c.Client.HIncrBy(ctx, redisGrantKey(key.UserID, key.Day), key.Action, -1).Err()
}

func (c *RedisDailyCounter) Counts(ctx context.Context, userID, day string) (map[string]int, error) {
	raw, err := c.Client.HGetAll(ctx, redisGrantKey(userID, day)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(raw))
	for action, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("grant bucket %s/%s: %w", userID, action, err)
		}
		out[action] = n
	}
	return out, nil
}

// OpenRedis parses a redis:// URL or falls back to a bare host:port address.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return client, nil
}
