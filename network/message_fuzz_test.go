package network

import (
	"testing"
	"time"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
)

// FuzzReadingMessage feeds arbitrary payloads through the shared dispatcher.
// Run with: go test -fuzz=FuzzReadingMessage -fuzztime=30s ./network/
func FuzzReadingMessage(f *testing.F) {
	valid, _ := NewReadingMessage("gw", []engine.SensorReading{{SensorID: 1, Timestamp: 2, Value: 3}}).Encode()
	f.Add(valid)
	f.Add([]byte(`{"readings":[{"sensor_id":1,"timestamp":2}]}`))
	f.Add([]byte(`{"readings":[{}]}`))
	f.Add([]byte(`{"readings":null}`))
	f.Add([]byte(`{"readings":[{"sensor_id":-5,"timestamp":1,"value":1}]}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`[]`))
	f.Add([]byte(`null`))

	f.Fuzz(func(t *testing.T, data []byte) {
		sink := &collectingSink{}
		d := newDispatcher("fuzz", sink, NewReplayGuard(time.Minute))

		accepted := d.handle(data)
		if accepted != sink.count() {
			t.Errorf("accepted %d but sink holds %d", accepted, sink.count())
		}
		for _, r := range sink.all() {
			if r.SensorID < 0 {
				t.Errorf("negative sensor id %d passed validation", r.SensorID)
			}
		}
	})
}
