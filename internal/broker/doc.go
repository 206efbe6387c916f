// Package broker implements the live fan-out bus for telemetry and alert events.
//
// There is one bus. Global subscribers receive every event and filter by topic
// ("device:{id}", "device:{id}:alert", "device:{id}:alert:ack"). Device
// subscribers are a filtered view over the same bus that only sees one
// device's events. Delivery is at-most-once: Publish never blocks, and a
// subscriber whose buffer is full misses the event.
package broker
