package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"
)

// RedisOptions configures a Redis-backed Storage.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
}

// Redis keeps items as plain string keys in a shared Redis database, so
// several processes see the same persistent tier.
type Redis struct {
	pool *redis.Pool
}

var _ Storage = &Redis{}

func NewRedis(opts RedisOptions) *Redis {
	pool := &redis.Pool{
		MaxIdle:     5,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", opts.Address,
				redis.DialPassword(opts.Password),
				redis.DialDatabase(opts.DB),
			)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	return &Redis{pool: pool}
}

// Ping checks that the server is reachable.
func (r *Redis) Ping() error {
	conn := r.pool.Get()
	defer conn.Close()

	_, err := conn.Do("PING")
	return err
}

func (r *Redis) GetItem(key string) ([]byte, bool, error) {
	conn := r.pool.Get()
	defer conn.Close()

	value, err := redis.Bytes(conn.Do("GET", key))
	if errors.Is(err, redis.ErrNil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (r *Redis) SetItem(key string, value []byte) error {
	conn := r.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("SET", key, value); err != nil {
		var rerr redis.Error
		if errors.As(err, &rerr) && strings.HasPrefix(string(rerr), "OOM") {
			return fmt.Errorf("%w: %v", ErrStorageFull, err)
		}
		return err
	}
	return nil
}

func (r *Redis) RemoveItem(key string) error {
	conn := r.pool.Get()
	defer conn.Close()

	_, err := conn.Do("DEL", key)
	return err
}

func (r *Redis) Keys(prefix string) ([]string, error) {
	conn := r.pool.Get()
	defer conn.Close()

	pattern := escapeGlob(prefix) + "*"
	var keys []string
	cursor := 0
	for {
		values, err := redis.Values(conn.Do("SCAN", cursor, "MATCH", pattern, "COUNT", 100))
		if err != nil {
			return nil, fmt.Errorf("scanning keys: %w", err)
		}
		var batch []string
		if _, err := redis.Scan(values, &cursor, &batch); err != nil {
			return nil, fmt.Errorf("decoding scan reply: %w", err)
		}
		keys = append(keys, batch...)
		if cursor == 0 {
			break
		}
	}
	return filterPrefix(keys, prefix), nil
}

func (r *Redis) Close() error {
	return r.pool.Close()
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
