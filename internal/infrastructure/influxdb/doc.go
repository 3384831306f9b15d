// Package influxdb exports authentication telemetry to InfluxDB.
//
// Each audit event becomes one point in the auth_events measurement, tagged
// by event type, category, severity and outcome, so dashboards can chart
// failed-login bursts, lockouts and forced logouts over time. Writes are
// batched and non-blocking; write errors surface through SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
package influxdb
