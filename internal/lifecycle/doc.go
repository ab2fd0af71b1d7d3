// Package lifecycle defines the events a supervised server goes through and
// the Sink interface that receives them.
//
// The supervisor emits one event per phase transition. Sinks must not block
// for long; publishers that talk to the network (MQTT, InfluxDB) do their own
// buffering and log their own failures.
package lifecycle
