// Package engine is the offline-first sync engine.
//
// Every mutation is applied to the local cache and durable store first,
// then appended to the sync queue. The engine drains the queue against the
// remote in FIFO order whenever a trigger fires:
//
//   - connectivity restored: always drains
//   - manual Flush: always drains
//   - periodic timer: drains only when the queue is non-empty
//   - after an enqueue: drains right away when online and idle
//   - retry backoff: re-drains after a failed attempt
//
// At most one drain runs at a time. A drain that reaches the end of its
// snapshot while online is followed by a reconciliation pull, which
// replaces the local cache with the remote collections except where local
// mutations are still pending (see Resolve).
//
// Failed entries are retried up to Config.MaxRetries times with the
// delays in Config.Backoff; after that they are marked failed and reported
// through the Notifier.
//
// Consumers read through accessors (Tasks, Categories, Status) and
// subscriptions (Subscribe, SubscribeStatus). Nothing outside the engine
// touches its cache.
package engine
