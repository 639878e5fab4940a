package data

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBatches() []engine.Batch {
	return []engine.Batch{
		{Timestamp: 200, Samples: []engine.Sample{{SensorID: 0, Value: 10}, {SensorID: 1, Value: math.NaN()}}},
		{Timestamp: 100, Samples: []engine.Sample{{SensorID: 2, Value: 11.5}}},
	}
}

func TestBatchesRoundTrip(t *testing.T) {
	c := NewConverter()

	record, err := c.BatchesToRecord(sampleBatches())
	require.NoError(t, err)
	defer record.Release()

	assert.Equal(t, int64(3), record.NumRows())
	require.NoError(t, ValidateSchema(record, ReadingSchema()))

	batches, err := c.RecordToBatches(record)
	require.NoError(t, err)
	require.Len(t, batches, 2)

	assert.Equal(t, int64(100), batches[0].Timestamp)
	assert.Equal(t, []engine.Sample{{SensorID: 2, Value: 11.5}}, batches[0].Samples)

	assert.Equal(t, int64(200), batches[1].Timestamp)
	require.Len(t, batches[1].Samples, 2)
	assert.Equal(t, 10.0, batches[1].Samples[0].Value)
	assert.True(t, math.IsNaN(batches[1].Samples[1].Value), "null must come back as NaN")
}

// readingRecordWithNull builds a two-row reading record whose second row has a
// null in column col.
func readingRecordWithNull(col int) arrow.Record {
	b := array.NewRecordBuilder(memory.NewGoAllocator(), ReadingSchema())
	defer b.Release()

	ts := b.Field(0).(*array.Int64Builder)
	ids := b.Field(1).(*array.Int32Builder)
	values := b.Field(2).(*array.Float64Builder)

	ts.Append(1)
	ids.Append(0)
	values.Append(10)

	if col == 0 {
		ts.AppendNull()
	} else {
		ts.Append(1)
	}
	if col == 1 {
		ids.AppendNull()
	} else {
		ids.Append(1)
	}
	values.Append(10)
	return b.NewRecord()
}

func TestRecordToBatchesRejectsNullKeys(t *testing.T) {
	for col, name := range []string{"timestamp", "sensor_id"} {
		t.Run(name, func(t *testing.T) {
			record := readingRecordWithNull(col)
			defer record.Release()

			batches, err := NewConverter().RecordToBatches(record)
			assert.ErrorIs(t, err, engine.ErrMalformedReading)
			assert.Contains(t, err.Error(), name)
			assert.Nil(t, batches)
		})
	}
}

func TestBatchesToRecordEmpty(t *testing.T) {
	_, err := NewConverter().BatchesToRecord([]engine.Batch{{Timestamp: 1}})
	assert.True(t, errors.Is(err, ErrEmptyInput))
}

func TestResultsRoundTrip(t *testing.T) {
	c := NewConverter()
	results := []engine.ConsensusResult{
		{
			Timestamp:    1,
			Estimate:     100.2,
			Status:       engine.StatusTrusted,
			Contributing: []engine.SensorID{0, 1, 2},
			Flagged:      []engine.SensorID{},
			Spread:       0.4,
			Agree:        true,
			Confidence:   1,
		},
		{
			Timestamp:    2,
			Estimate:     100.1,
			Status:       engine.StatusDegraded,
			Contributing: []engine.SensorID{0, 1},
			Flagged:      []engine.SensorID{2},
			Absent:       []engine.SensorID{3},
			Spread:       0.2,
			Confidence:   0.5,
		},
	}

	record, err := c.ResultsToRecord(results)
	require.NoError(t, err)
	defer record.Release()

	back, err := c.RecordToResults(record)
	require.NoError(t, err)
	assert.Equal(t, results, back)
}

func TestRecordToResultsRejectsWrongSchema(t *testing.T) {
	c := NewConverter()
	record, err := c.BatchesToRecord(sampleBatches())
	require.NoError(t, err)
	defer record.Release()

	_, err = c.RecordToResults(record)
	assert.Error(t, err)
}

func TestStatesToRecord(t *testing.T) {
	c := NewConverter()
	record, err := c.StatesToRecord([]engine.SensorState{
		{SensorID: 0},
		{SensorID: 1, Flagged: true, ConsecutiveFaults: 3, Violations: 7, FlagCount: 2},
	})
	require.NoError(t, err)
	defer record.Release()

	assert.Equal(t, int64(2), record.NumRows())
	assert.NoError(t, ValidateSchema(record, SensorStateSchema()))
}

func TestJSONConversions(t *testing.T) {
	c := NewConverter()

	record, err := c.JSONToReadingRecord([]byte(`[{"timestamp":5,"samples":[{"sensor_id":1,"value":2.5}]}]`))
	require.NoError(t, err)
	defer record.Release()
	assert.Equal(t, int64(1), record.NumRows())

	_, err = c.JSONToReadingRecord([]byte(`{`))
	assert.Error(t, err)

	out, err := c.ResultRecordToJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))

	results := []engine.ConsensusResult{{Timestamp: 9, Estimate: 1, Status: engine.StatusNoQuorum, Flagged: []engine.SensorID{}}}
	resRecord, err := c.ResultsToRecord(results)
	require.NoError(t, err)
	defer resRecord.Release()

	out, err = c.ResultRecordToJSON(resRecord)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "no_quorum", decoded[0]["status"])
}
