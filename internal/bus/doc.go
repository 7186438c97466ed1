// Package bus carries capture_request events between tiers. A Hub is the
// downstream side of a tier and fans events out to websocket subscribers; a
// Link is the upstream side and keeps one connection alive, either to another
// Hub or to a Redis pub/sub channel.
package bus
