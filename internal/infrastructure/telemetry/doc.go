// Package telemetry records machine readings to InfluxDB.
//
// Recording is optional and strictly observational: the recorder
// follows the domain store's snapshot stream and batches points to
// InfluxDB with non-blocking writes. It is disabled by default and a
// missing or unhealthy InfluxDB never affects connection orchestration.
package telemetry
