package data

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// ReadingSchema returns the Arrow schema for sensor readings, one row per sample.
//
// Fields:
//   - timestamp: int64 - Timestep of the sample
//   - sensor_id: int32 - Reporting sensor
//   - value: float64 (nullable) - Measured value; null is treated as a malformed reading
func ReadingSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64},
			{Name: "sensor_id", Type: arrow.PrimitiveTypes.Int32},
			{Name: "value", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		},
		nil,
	)
}

// ResultSchema returns the Arrow schema for consensus results, one row per timestep.
//
// Fields:
//   - timestamp: int64
//   - estimate: float64 - Fused value, or the last known value on no_quorum
//   - status: string - trusted, degraded or no_quorum
//   - contributing_sensors: list<int32>
//   - flagged_sensors: list<int32>
//   - absent_sensors: list<int32>
//   - spread: float64 - Max minus min of the contributing values
//   - agree: bool
//   - confidence: float64
func ResultSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64},
			{Name: "estimate", Type: arrow.PrimitiveTypes.Float64},
			{Name: "status", Type: arrow.BinaryTypes.String},
			{Name: "contributing_sensors", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32), Nullable: true},
			{Name: "flagged_sensors", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32), Nullable: true},
			{Name: "absent_sensors", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32), Nullable: true},
			{Name: "spread", Type: arrow.PrimitiveTypes.Float64},
			{Name: "agree", Type: arrow.FixedWidthTypes.Boolean},
			{Name: "confidence", Type: arrow.PrimitiveTypes.Float64},
		},
		nil,
	)
}

// SensorStateSchema returns the Arrow schema for classifier state, one row per sensor.
func SensorStateSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "sensor_id", Type: arrow.PrimitiveTypes.Int32},
			{Name: "flagged", Type: arrow.FixedWidthTypes.Boolean},
			{Name: "consecutive_faults", Type: arrow.PrimitiveTypes.Int32},
			{Name: "consecutive_ok", Type: arrow.PrimitiveTypes.Int32},
			{Name: "violations", Type: arrow.PrimitiveTypes.Int64},
			{Name: "flag_count", Type: arrow.PrimitiveTypes.Int64},
		},
		nil,
	)
}
