// Package redis provides the production EventBus and key-value store
// implementations backed by Redis Streams and plain Redis keys.
package redis
