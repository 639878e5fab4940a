package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ErrEmptyInput is returned when there is nothing to convert.
var ErrEmptyInput = errors.New("empty input")

// Converter handles conversion between engine types, JSON and Arrow records.
type Converter struct {
	allocator memory.Allocator
}

// NewConverter creates a new Converter with the default memory allocator.
func NewConverter() *Converter {
	return &Converter{
		allocator: memory.DefaultAllocator,
	}
}

// NewConverterWithAllocator creates a Converter with a custom allocator.
func NewConverterWithAllocator(allocator memory.Allocator) *Converter {
	return &Converter{allocator: allocator}
}

// BatchesToRecord flattens batches into a reading record, one row per sample.
// NaN values are written as nulls.
func (c *Converter) BatchesToRecord(batches []engine.Batch) (arrow.Record, error) {
	rows := 0
	for _, b := range batches {
		rows += len(b.Samples)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrEmptyInput)
	}

	builder := array.NewRecordBuilder(c.allocator, ReadingSchema())
	defer builder.Release()

	tsBuilder := builder.Field(0).(*array.Int64Builder)
	idBuilder := builder.Field(1).(*array.Int32Builder)
	valueBuilder := builder.Field(2).(*array.Float64Builder)

	tsBuilder.Reserve(rows)
	idBuilder.Reserve(rows)
	valueBuilder.Reserve(rows)

	for _, b := range batches {
		for _, s := range b.Samples {
			tsBuilder.Append(b.Timestamp)
			idBuilder.Append(int32(s.SensorID))
			if math.IsNaN(s.Value) {
				valueBuilder.AppendNull()
			} else {
				valueBuilder.Append(s.Value)
			}
		}
	}

	return builder.NewRecord(), nil
}

// RecordToBatches groups a reading record back into batches ordered by
// timestamp. Null values become NaN so that ingest drops them as malformed.
// A null timestamp or sensor id rejects the whole record.
func (c *Converter) RecordToBatches(record arrow.Record) ([]engine.Batch, error) {
	if record == nil || record.NumRows() == 0 {
		return nil, nil
	}
	if err := ValidateSchema(record, ReadingSchema()); err != nil {
		return nil, err
	}

	tsCol := record.Column(0).(*array.Int64)
	idCol := record.Column(1).(*array.Int32)
	valueCol := record.Column(2).(*array.Float64)

	index := make(map[int64]int)
	var batches []engine.Batch

	for i := 0; i < int(record.NumRows()); i++ {
		if tsCol.IsNull(i) {
			return nil, fmt.Errorf("%w: row %d missing timestamp", engine.ErrMalformedReading, i)
		}
		if idCol.IsNull(i) {
			return nil, fmt.Errorf("%w: row %d missing sensor_id", engine.ErrMalformedReading, i)
		}
		ts := tsCol.Value(i)
		value := math.NaN()
		if !valueCol.IsNull(i) {
			value = valueCol.Value(i)
		}

		pos, ok := index[ts]
		if !ok {
			pos = len(batches)
			index[ts] = pos
			batches = append(batches, engine.Batch{Timestamp: ts})
		}
		batches[pos].Samples = append(batches[pos].Samples, engine.Sample{
			SensorID: engine.SensorID(idCol.Value(i)),
			Value:    value,
		})
	}

	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].Timestamp < batches[j].Timestamp
	})
	return batches, nil
}

// ResultsToRecord converts consensus results to a result record.
// Deviations and the dropped/rehabilitated lists are not carried.
func (c *Converter) ResultsToRecord(results []engine.ConsensusResult) (arrow.Record, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: no results", ErrEmptyInput)
	}

	builder := array.NewRecordBuilder(c.allocator, ResultSchema())
	defer builder.Release()

	tsBuilder := builder.Field(0).(*array.Int64Builder)
	estimateBuilder := builder.Field(1).(*array.Float64Builder)
	statusBuilder := builder.Field(2).(*array.StringBuilder)
	contributingBuilder := builder.Field(3).(*array.ListBuilder)
	flaggedBuilder := builder.Field(4).(*array.ListBuilder)
	absentBuilder := builder.Field(5).(*array.ListBuilder)
	spreadBuilder := builder.Field(6).(*array.Float64Builder)
	agreeBuilder := builder.Field(7).(*array.BooleanBuilder)
	confidenceBuilder := builder.Field(8).(*array.Float64Builder)

	for _, r := range results {
		tsBuilder.Append(r.Timestamp)
		estimateBuilder.Append(r.Estimate)
		statusBuilder.Append(r.Status.String())
		appendIDs(contributingBuilder, r.Contributing)
		appendIDs(flaggedBuilder, r.Flagged)
		appendIDs(absentBuilder, r.Absent)
		spreadBuilder.Append(r.Spread)
		agreeBuilder.Append(r.Agree)
		confidenceBuilder.Append(r.Confidence)
	}

	return builder.NewRecord(), nil
}

func appendIDs(lb *array.ListBuilder, ids []engine.SensorID) {
	lb.Append(true)
	vb := lb.ValueBuilder().(*array.Int32Builder)
	for _, id := range ids {
		vb.Append(int32(id))
	}
}

// RecordToResults converts a result record back to consensus results.
func (c *Converter) RecordToResults(record arrow.Record) ([]engine.ConsensusResult, error) {
	if record == nil || record.NumRows() == 0 {
		return nil, nil
	}
	if err := ValidateSchema(record, ResultSchema()); err != nil {
		return nil, err
	}

	tsCol := record.Column(0).(*array.Int64)
	estimateCol := record.Column(1).(*array.Float64)
	statusCol := record.Column(2).(*array.String)
	contributingCol := record.Column(3).(*array.List)
	flaggedCol := record.Column(4).(*array.List)
	absentCol := record.Column(5).(*array.List)
	spreadCol := record.Column(6).(*array.Float64)
	agreeCol := record.Column(7).(*array.Boolean)
	confidenceCol := record.Column(8).(*array.Float64)

	results := make([]engine.ConsensusResult, record.NumRows())
	for i := range results {
		status, err := engine.ParseResultStatus(statusCol.Value(i))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}

		contributing, err := extractIDs(contributingCol, i)
		if err != nil {
			return nil, err
		}
		flagged, err := extractIDs(flaggedCol, i)
		if err != nil {
			return nil, err
		}
		absent, err := extractIDs(absentCol, i)
		if err != nil {
			return nil, err
		}
		if flagged == nil {
			flagged = []engine.SensorID{}
		}
		if len(absent) == 0 {
			absent = nil
		}

		results[i] = engine.ConsensusResult{
			Timestamp:    tsCol.Value(i),
			Estimate:     estimateCol.Value(i),
			Status:       status,
			Contributing: contributing,
			Flagged:      flagged,
			Absent:       absent,
			Spread:       spreadCol.Value(i),
			Agree:        agreeCol.Value(i),
			Confidence:   confidenceCol.Value(i),
		}
	}
	return results, nil
}

// extractIDs reads the sensor list at row idx of a list<int32> column.
func extractIDs(col *array.List, idx int) ([]engine.SensorID, error) {
	if col.IsNull(idx) {
		return nil, nil
	}
	values, ok := col.ListValues().(*array.Int32)
	if !ok {
		return nil, errors.New("sensor list values are not int32")
	}

	start, end := col.ValueOffsets(idx)
	if start < 0 || end > int64(values.Len()) || start > end {
		return nil, fmt.Errorf("row %d: sensor list offsets out of bounds", idx)
	}

	ids := make([]engine.SensorID, 0, end-start)
	for j := start; j < end; j++ {
		ids = append(ids, engine.SensorID(values.Value(int(j))))
	}
	return ids, nil
}

// StatesToRecord converts classifier state to a sensor state record.
func (c *Converter) StatesToRecord(states []engine.SensorState) (arrow.Record, error) {
	if len(states) == 0 {
		return nil, fmt.Errorf("%w: no sensor states", ErrEmptyInput)
	}

	builder := array.NewRecordBuilder(c.allocator, SensorStateSchema())
	defer builder.Release()

	idBuilder := builder.Field(0).(*array.Int32Builder)
	flaggedBuilder := builder.Field(1).(*array.BooleanBuilder)
	faultsBuilder := builder.Field(2).(*array.Int32Builder)
	okBuilder := builder.Field(3).(*array.Int32Builder)
	violationsBuilder := builder.Field(4).(*array.Int64Builder)
	flagCountBuilder := builder.Field(5).(*array.Int64Builder)

	for _, st := range states {
		idBuilder.Append(int32(st.SensorID))
		flaggedBuilder.Append(st.Flagged)
		faultsBuilder.Append(int32(st.ConsecutiveFaults))
		okBuilder.Append(int32(st.ConsecutiveOK))
		violationsBuilder.Append(st.Violations)
		flagCountBuilder.Append(st.FlagCount)
	}

	return builder.NewRecord(), nil
}

// JSONToReadingRecord converts a JSON array of batches to a reading record.
func (c *Converter) JSONToReadingRecord(jsonData []byte) (arrow.Record, error) {
	var batches []engine.Batch
	if err := json.Unmarshal(jsonData, &batches); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return c.BatchesToRecord(batches)
}

// ResultRecordToJSON converts a result record to a JSON array of results.
func (c *Converter) ResultRecordToJSON(record arrow.Record) ([]byte, error) {
	results, err := c.RecordToResults(record)
	if err != nil {
		return nil, err
	}
	if results == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(results)
}

// ValidateSchema checks if a record matches the expected schema.
func ValidateSchema(record arrow.Record, expected *arrow.Schema) error {
	if record == nil {
		return errors.New("record is nil")
	}

	actual := record.Schema()
	if actual.NumFields() != expected.NumFields() {
		return fmt.Errorf("field count mismatch: got %d, expected %d",
			actual.NumFields(), expected.NumFields())
	}

	for i := 0; i < actual.NumFields(); i++ {
		actualField := actual.Field(i)
		expectedField := expected.Field(i)

		if actualField.Name != expectedField.Name {
			return fmt.Errorf("field %d name mismatch: got %s, expected %s",
				i, actualField.Name, expectedField.Name)
		}

		if !arrow.TypeEqual(actualField.Type, expectedField.Type) {
			return fmt.Errorf("field %s type mismatch: got %s, expected %s",
				actualField.Name, actualField.Type, expectedField.Type)
		}
	}

	return nil
}
