// Package influxdb records supervisor lifecycle metrics in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library: connection with a
// ping check, non-blocking batched writes, and health monitoring.
//
// Every lifecycle event becomes one point in the vault_lifecycle
// measurement, tagged by kind, server id and version. Startup and stop
// durations, escalations and failures can then be charted per version.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	supervisor := vault.NewSupervisor(vault.Options{Sink: client})
//
// Writes are batched according to batch_size and flush_interval. Write
// errors are delivered asynchronously to the SetOnError callback.
package influxdb
