package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatrelay/internal/config"

	goredis "github.com/redis/go-redis/v9"
)

const dialTimeout = 3 * time.Second

// ErrNotFound is returned by Fetch for a missing or expired key.
var ErrNotFound = errors.New("redis: key not found")

// Client is the connection that holds session snapshots.
type Client struct {
	rdb  *goredis.Client
	addr string
}

// Dial connects with the configured credentials and verifies the server answers.
func Dial(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &Client{rdb: rdb, addr: addr}, nil
}

func (c *Client) Addr() string {
	return c.addr
}

// Put stores value under key; the key expires after ttl.
func (c *Client) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Fetch returns the bytes under key or ErrNotFound.
func (c *Client) Fetch(ctx context.Context, key string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
