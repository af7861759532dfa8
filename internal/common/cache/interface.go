package cache

import (
	"context"
	"time"
)

// Cache defines the unified interface for cache operations.
// This abstraction allows switching between different cache implementations
// without changing business logic.
type Cache interface {
	BasicOps
	HashOps
	SetOps
	ZSetOps
	ListOps
	LockOps
	ScriptOps
	PubSubOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key.
	// Returns an empty string without error if the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair with optional TTL.
	// If ttl is 0, the key will not expire.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist (atomic operation).
	// Returns true if the key was set, false if it already existed.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// Exists checks if one or more keys exist.
	// Returns the number of keys that exist.
	Exists(ctx context.Context, keys ...string) (int64, error)

	// Expire sets a timeout on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Incr increments the integer value of a key by 1
	Incr(ctx context.Context, key string) (int64, error)
}

// HashOps defines hash (map) operations
type HashOps interface {
	// HSet sets field in the hash stored at key to value
	HSet(ctx context.Context, key, field string, value interface{}) error

	// HGet returns the value associated with field in the hash stored at key
	HGet(ctx context.Context, key, field string) (string, error)

	// HGetAll returns all fields and values of the hash stored at key
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HMSet sets multiple fields in the hash stored at key
	HMSet(ctx context.Context, key string, fields map[string]interface{}) error

	// HDel deletes one or more fields from the hash stored at key
	HDel(ctx context.Context, key string, fields ...string) error

	// HLen returns the number of fields in the hash stored at key
	HLen(ctx context.Context, key string) (int64, error)

	// HIncrBy increments the integer value of a hash field by the given number
	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)
}

// SetOps defines set operations
type SetOps interface {
	// SAdd adds one or more members to a set.
	// Returns the number of members that were newly added.
	SAdd(ctx context.Context, key string, members ...interface{}) (int64, error)

	// SRem removes one or more members from a set
	SRem(ctx context.Context, key string, members ...interface{}) error

	// SMembers returns all members of a set
	SMembers(ctx context.Context, key string) ([]string, error)

	// SIsMember checks if a value is a member of a set
	SIsMember(ctx context.Context, key string, member interface{}) (bool, error)

	// SCard returns the number of members in a set
	SCard(ctx context.Context, key string) (int64, error)
}

// ZSetOps defines sorted set operations (crucial for the leaderboard)
type ZSetOps interface {
	// ZIncrBy increments the score of a member in a sorted set
	ZIncrBy(ctx context.Context, key string, increment float64, member string) (float64, error)

	// ZScore returns the score of a member in a sorted set
	ZScore(ctx context.Context, key, member string) (float64, error)

	// ZCard returns the number of members in a sorted set
	ZCard(ctx context.Context, key string) (int64, error)

	// ZRevRangeWithScores returns members with scores in descending order.
	// start and stop are zero-based indexes.
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error)

	// ZRevRank returns the rank of a member in descending order, 0-based.
	// Returns -1 if the member does not exist.
	ZRevRank(ctx context.Context, key, member string) (int64, error)
}

// ListOps defines list operations (the finalize queue is built on these)
type ListOps interface {
	// LPush prepends one or more values to a list
	LPush(ctx context.Context, key string, values ...interface{}) error

	// RPop removes and returns the last element of a list.
	// Returns an empty string without error if the list is empty.
	RPop(ctx context.Context, key string) (string, error)

	// LLen returns the length of a list
	LLen(ctx context.Context, key string) (int64, error)
}

// LockOps defines distributed lock operations
type LockOps interface {
	// TryLock attempts to acquire a distributed lock.
	// Returns true if lock was acquired, false otherwise.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unlock releases a distributed lock
	Unlock(ctx context.Context, key string) error
}

// ScriptOps defines server-side script execution.
// Scripts are the only way to combine multiple commands into one
// indivisible operation across service instances.
type ScriptOps interface {
	// Eval runs a Lua script with the given keys and args
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// PubSubOps defines broadcast operations
type PubSubOps interface {
	// Publish broadcasts a payload on a channel
	Publish(ctx context.Context, channel string, payload interface{}) error

	// PSubscribe subscribes to channels matching the given patterns.
	// The caller must Close the returned subscription.
	PSubscribe(ctx context.Context, patterns ...string) (Subscription, error)
}

// Subscription is a live pub/sub subscription
type Subscription interface {
	// Messages returns the channel delivering received messages
	Messages() <-chan SubMessage

	// Close unsubscribes and releases the subscription
	Close() error
}

// SubMessage is one received pub/sub message
type SubMessage struct {
	Channel string
	Payload string
}

// ZMember represents a member in a sorted set with its score
type ZMember struct {
	Score  float64
	Member string
}
