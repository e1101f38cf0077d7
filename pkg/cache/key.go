package cache

import "strings"

// RedisKeyPrefix namespaces comparison sets in a Redis shared with the
// rate limit tracker.
const RedisKeyPrefix = "cache:"

// redisKey maps an item key to its Redis key.
//
// Example:
//
//	redisKey("price:milk:60.00") == "cache:price:milk:60.00"
func redisKey(itemKey string) string {
	return RedisKeyPrefix + itemKey
}

// itemKey is the inverse of redisKey.
func itemKey(redisKey string) string {
	return strings.TrimPrefix(redisKey, RedisKeyPrefix)
}
