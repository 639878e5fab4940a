package data

import (
	"bytes"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// IPCCodec writes and reads Arrow records in the IPC stream format.
type IPCCodec struct {
	allocator memory.Allocator
}

// NewIPCCodec creates a new IPCCodec.
func NewIPCCodec() *IPCCodec {
	return &IPCCodec{
		allocator: memory.DefaultAllocator,
	}
}

// Encode serializes an Arrow Record to IPC bytes.
func (c *IPCCodec) Encode(record arrow.Record) ([]byte, error) {
	if record == nil {
		return nil, fmt.Errorf("%w: nil record", ErrEmptyInput)
	}
	return c.EncodeAll([]arrow.Record{record})
}

// EncodeAll serializes records sharing one schema to IPC bytes.
func (c *IPCCodec) EncodeAll(records []arrow.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.WriteAll(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteAll streams records sharing one schema to w.
func (c *IPCCodec) WriteAll(w io.Writer, records []arrow.Record) error {
	if len(records) == 0 {
		return fmt.Errorf("%w: no records to serialize", ErrEmptyInput)
	}

	writer := ipc.NewWriter(w, ipc.WithSchema(records[0].Schema()), ipc.WithAllocator(c.allocator))
	defer writer.Close()

	for i, record := range records {
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

// Decode deserializes the first record of IPC bytes. The caller must Release it.
func (c *IPCCodec) Decode(data []byte) (arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(c.allocator))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if reader.Err() != nil {
			return nil, reader.Err()
		}
		return nil, fmt.Errorf("no records in IPC data")
	}

	record := reader.Record()
	record.Retain()

	return record, nil
}

// DecodeAll deserializes every record of IPC bytes.
func (c *IPCCodec) DecodeAll(data []byte) ([]arrow.Record, error) {
	return c.ReadAll(bytes.NewReader(data))
}

// ReadAll reads every record from an IPC stream. The caller must Release them.
func (c *IPCCodec) ReadAll(r io.Reader) ([]arrow.Record, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(c.allocator))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	var records []arrow.Record
	for reader.Next() {
		record := reader.Record()
		record.Retain()
		records = append(records, record)
	}

	if reader.Err() != nil {
		for _, r := range records {
			r.Release()
		}
		return nil, reader.Err()
	}

	return records, nil
}

// ReleaseAll releases every record.
func ReleaseAll(records []arrow.Record) {
	for _, r := range records {
		if r != nil {
			r.Release()
		}
	}
}
