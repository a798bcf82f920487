// Package bus defines the ordered, durable publish/subscribe contract that
// connects the task coordinator to its downstream consumers.
//
// Topics are independent streams. Each subscriber group receives every event
// on a topic at least once, in per-key order, until the delivery is
// acknowledged. Consumers must be idempotent against redelivery and
// deduplicate by (task_id, sequence_id).
//
// The package ships an in-memory implementation used in tests and
// single-process deployments; the Redis Streams implementation lives in
// internal/platform/redis.
package bus
