// Package archive copies audit entries to object storage on a schedule.
//
// Each run covers the last complete window (one UTC day by default) and
// writes one NDJSON object per gym that logged anything in it:
//
//	<prefix>/<gymId>/<YYYY-MM-DD>.ndjson
//
// Gyms are exported concurrently. A failure for one gym is logged and
// reported without stopping the rest. Objects are overwritten when a window
// is archived again, so reruns are safe.
package archive
