package store

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Executor exposes the atomic primitives the lock and the rate limiter are
// built on. Implementations hold no coordination state of their own.
type Executor interface {
	// SetNX stores value under key with the given TTL only if key is
	// absent. It reports whether the key was created.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Run evaluates script atomically against keys and args. Scripts
	// used with an Executor must reply with an integer or an array of
	// integers.
	Run(ctx context.Context, script *Script, keys []string, args ...any) ([]int64, error)
}

// Script is a named Lua script. The name is used in logs, spans and
// metric labels.
type Script struct {
	name string
	lua  *redis.Script
}

// NewScript returns a Script for the given Lua source.
func NewScript(name, src string) *Script {
	return &Script{name: name, lua: redis.NewScript(src)}
}

// Name returns the script name.
func (s *Script) Name() string { return s.name }

// Hash returns the SHA1 digest the store caches the script under.
func (s *Script) Hash() string { return s.lua.Hash() }
