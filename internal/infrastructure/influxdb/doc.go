// Package influxdb exports device snapshots to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched non-blocking writes, and health monitoring. The
// Exporter turns snapshot emissions into points:
//
//	power,identity=th/site001/pg46/001,scope=device,site=site001 summary_value=12.4,channel_count=6i,freshness="online"
//	power,identity=th/site001/pg46/001,phase=L1,scope=channel,site=site001,term=in current=12.4,voltage=229.8
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	reg, err := synchronizer.Register("export", client.Exporter(cfg.Site.ID))
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Points are queued without blocking. Batch failures reach the SetOnError
// callback wrapped in ErrWriteFailed. WritePoint returns ErrNotConnected
// after Close, and the Exporter then retries the refused devices on its
// next emission. Connection and health check errors are returned directly.
package influxdb
