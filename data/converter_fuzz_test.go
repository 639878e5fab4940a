package data

import (
	"math"
	"testing"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
)

// FuzzJSONToReadingRecord feeds arbitrary JSON to the batch converter.
// Run with: go test -fuzz=FuzzJSONToReadingRecord -fuzztime=30s ./data/
func FuzzJSONToReadingRecord(f *testing.F) {
	f.Add([]byte(`[{"timestamp":1,"samples":[{"sensor_id":0,"value":1.5}]}]`))
	f.Add([]byte(`[{"timestamp":1,"samples":[]}]`))
	f.Add([]byte(`[]`))
	f.Add([]byte(`[{}]`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte(`[null]`))
	f.Add([]byte(`[1,2,3]`))

	c := NewConverter()

	f.Fuzz(func(t *testing.T, data []byte) {
		record, err := c.JSONToReadingRecord(data)
		if err == nil && record != nil {
			if _, err := c.RecordToBatches(record); err != nil {
				t.Errorf("RecordToBatches failed on converter output: %v", err)
			}
			record.Release()
		}
	})
}

// FuzzIPCDecode checks that arbitrary bytes never panic the IPC reader path.
// Run with: go test -fuzz=FuzzIPCDecode -fuzztime=30s ./data/
func FuzzIPCDecode(f *testing.F) {
	c := NewConverter()
	codec := NewIPCCodec()

	record, err := c.BatchesToRecord([]engine.Batch{{Timestamp: 1, Samples: []engine.Sample{{SensorID: 0, Value: 1}}}})
	if err != nil {
		f.Fatal(err)
	}
	valid, err := codec.Encode(record)
	record.Release()
	if err != nil {
		f.Fatal(err)
	}

	f.Add(valid)
	f.Add([]byte{})
	f.Add([]byte{0xff, 0xff, 0xff, 0xff})

	f.Fuzz(func(t *testing.T, data []byte) {
		records, err := codec.DecodeAll(data)
		if err != nil {
			return
		}
		for _, rec := range records {
			_, _ = c.RecordToBatches(rec)
		}
		ReleaseAll(records)
	})
}

// FuzzBatchRoundTrip checks that finite sample values survive the Arrow layout.
// Run with: go test -fuzz=FuzzBatchRoundTrip -fuzztime=30s ./data/
func FuzzBatchRoundTrip(f *testing.F) {
	f.Add(int64(0), int32(0), 1.0)
	f.Add(int64(-5), int32(7), -1e300)

	c := NewConverter()

	f.Fuzz(func(t *testing.T, ts int64, id int32, value float64) {
		if math.IsNaN(value) {
			return
		}
		record, err := c.BatchesToRecord([]engine.Batch{{Timestamp: ts, Samples: []engine.Sample{{SensorID: engine.SensorID(id), Value: value}}}})
		if err != nil {
			t.Fatal(err)
		}
		defer record.Release()

		batches, err := c.RecordToBatches(record)
		if err != nil {
			t.Fatal(err)
		}
		if len(batches) != 1 || batches[0].Timestamp != ts || batches[0].Samples[0].Value != value {
			t.Errorf("round trip mismatch: %+v", batches)
		}
	})
}
