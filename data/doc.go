// Package data provides the Apache Arrow layout of sensor readings and fusion
// results. This package implements:
// - Arrow schema definitions for readings and consensus results
// - Batch, result and JSON conversion to and from Arrow records
// - IPC serialization for the Arrow server and result archives
package data
