// Package publish makes a completed work unit durable: artifacts go to an
// S3-compatible bucket (minio-go), and one result record per work unit is
// upserted into Postgres (pgx), carrying the uploaded file ids, plate
// metadata parsed from the Celigo file name, and the CellProfiler
// measurements.
package publish
