/*
Package bus implements the in-process pub/sub message bus between agents.

Message kinds cover direct sends, swarm-wide broadcasts, named channels,
request/response queries, notifications, task assignments, progress
updates, coordination and cancellation. Every message carries a priority.

# Delivery semantics

Delivery is at-most-once within the process. Each registered agent owns a
single buffered inbox, so messages between any (sender, receiver) pair are
observed in send order. A saturated inbox drops the message and the sender
learns about it through the returned error; broadcasts are not totally
ordered across receivers.

Queries carry a correlation id and a deadline. The pending-query table is
a TTL cache keyed by correlation id, so replies that arrive after expiry
are silently discarded and the sender observes ErrQueryTimeout.

Channel subscriber lists are copy-on-write: delivery reads a stable slice
without holding the bus lock, keeping fan-out lock-free against
subscription churn.
*/
package bus
