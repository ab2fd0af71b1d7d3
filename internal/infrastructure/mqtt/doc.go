// Package mqtt publishes supervisor lifecycle events to an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect and a Last Will
//   - Publishing with QoS and retained state topics
//   - Subscriptions, restored after a reconnect
//   - LifecyclePublisher, a lifecycle.Sink that mirrors server events
//
// Topic layout under the configured prefix (default "embedded-vault"):
//
//	<prefix>/system/status            retained client online/offline status
//	<prefix>/server/<id>/lifecycle    every lifecycle event as JSON
//	<prefix>/server/<id>/state        retained latest state, cleared on cleanup
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	sink := mqtt.NewLifecyclePublisher(client, mqtt.NewTopics(cfg.MQTT.TopicPrefix), byte(cfg.MQTT.QoS))
//
// TLS should be enabled (cfg.Broker.TLS) whenever the broker is not local.
package mqtt
