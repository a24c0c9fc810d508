// Package redistest provides an in-process stand-in for redis.UniversalClient
// covering the list and hash commands the job queue and address book issue.
// Any other command panics, which flags an unexpected dependency in tests.
package redistest

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client keeps lists and hashes in memory. BRPOP blocks until a push, the
// timeout or ctx cancellation, like the real command.
type Client struct {
	redis.UniversalClient

	mu     sync.Mutex
	lists  map[string][]string
	hashes map[string]map[string]string
	pushed chan struct{}
	closed bool
	fail   error
}

// New returns an empty client.
func New() *Client {
	return &Client{
		lists:  make(map[string][]string),
		hashes: make(map[string]map[string]string),
		pushed: make(chan struct{}),
	}
}

// FailWith makes every following command return err; nil restores service.
func (c *Client) FailWith(err error) {
	c.mu.Lock()
	c.fail = err
	c.mu.Unlock()
}

// List returns a copy of the list stored at key, head first.
func (c *Client) List(key string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lists[key]...)
}

func (c *Client) unavailable() error {
	if c.closed {
		return redis.ErrClosed
	}
	return c.fail
}

// wake releases every BRPOP waiting for a push. Callers hold c.mu.
func (c *Client) wake() {
	close(c.pushed)
	c.pushed = make(chan struct{})
}

func (c *Client) Ping(context.Context) *redis.StatusCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.unavailable(); err != nil {
		return redis.NewStatusResult("", err)
	}
	return redis.NewStatusResult("PONG", nil)
}

func (c *Client) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.unavailable(); err != nil {
		return redis.NewIntResult(0, err)
	}
	for _, v := range values {
		c.lists[key] = append([]string{fmt.Sprint(v)}, c.lists[key]...)
	}
	c.wake()
	return redis.NewIntResult(int64(len(c.lists[key])), nil)
}

func (c *Client) RPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.unavailable(); err != nil {
		return redis.NewIntResult(0, err)
	}
	for _, v := range values {
		c.lists[key] = append(c.lists[key], fmt.Sprint(v))
	}
	c.wake()
	return redis.NewIntResult(int64(len(c.lists[key])), nil)
}

func (c *Client) BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		c.mu.Lock()
		if err := c.unavailable(); err != nil {
			c.mu.Unlock()
			return redis.NewStringSliceResult(nil, err)
		}
		for _, key := range keys {
			list := c.lists[key]
			if n := len(list); n > 0 {
				value := list[n-1]
				c.lists[key] = list[:n-1]
				c.mu.Unlock()
				return redis.NewStringSliceResult([]string{key, value}, nil)
			}
		}
		pushed := c.pushed
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return redis.NewStringSliceResult(nil, ctx.Err())
		case <-deadline.C:
			return redis.NewStringSliceResult(nil, redis.Nil)
		case <-pushed:
		}
	}
}

func (c *Client) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.unavailable(); err != nil {
		return redis.NewIntResult(0, err)
	}
	if len(values)%2 != 0 {
		return redis.NewIntResult(0, fmt.Errorf("ERR wrong number of arguments for 'hset' command"))
	}
	hash := c.hashes[key]
	if hash == nil {
		hash = make(map[string]string)
		c.hashes[key] = hash
	}
	var added int64
	for i := 0; i < len(values); i += 2 {
		field := fmt.Sprint(values[i])
		if _, ok := hash[field]; !ok {
			added++
		}
		hash[field] = fmt.Sprint(values[i+1])
	}
	return redis.NewIntResult(added, nil)
}

func (c *Client) HGet(_ context.Context, key, field string) *redis.StringCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.unavailable(); err != nil {
		return redis.NewStringResult("", err)
	}
	value, ok := c.hashes[key][field]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (c *Client) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.unavailable(); err != nil {
		return redis.NewMapStringStringResult(nil, err)
	}
	out := maps.Clone(c.hashes[key])
	if out == nil {
		out = map[string]string{}
	}
	return redis.NewMapStringStringResult(out, nil)
}

// Close makes every following command fail with redis.ErrClosed and wakes
// blocked BRPOP calls.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.wake()
	}
	return nil
}
