/*
Package broker implements the Message Broker: the only channel
components use to talk to each other. It generalizes Warren's
broadcast-to-all event bus (pkg/events) into pattern-matched targeted
delivery with a fixed worker pool, grounded on the routing and
de-aliasing rules of the original message_broker.

A component registers once, subscribes to dotted patterns
("name.role.instance_id", wildcard last segment), and publishes
messages whose target tag is matched against every active
subscription. Subscriptions recorded before their target component
registers are held pending and flushed at registration time, so
subscribe/register ordering never drops a message.
*/
package broker
