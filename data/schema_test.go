package data

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
)

func TestReadingSchema(t *testing.T) {
	schema := ReadingSchema()

	expectedFields := []struct {
		name     string
		nullable bool
	}{
		{"timestamp", false},
		{"sensor_id", false},
		{"value", true},
	}

	if schema.NumFields() != len(expectedFields) {
		t.Fatalf("Expected %d fields, got %d", len(expectedFields), schema.NumFields())
	}
	for i, expected := range expectedFields {
		field := schema.Field(i)
		if field.Name != expected.name {
			t.Errorf("Field %d: expected name %s, got %s", i, expected.name, field.Name)
		}
		if field.Nullable != expected.nullable {
			t.Errorf("Field %s: expected nullable=%v, got %v",
				expected.name, expected.nullable, field.Nullable)
		}
	}
}

func TestResultSchema(t *testing.T) {
	schema := ResultSchema()

	expectedNames := []string{
		"timestamp", "estimate", "status", "contributing_sensors",
		"flagged_sensors", "absent_sensors", "spread", "agree", "confidence",
	}
	if schema.NumFields() != len(expectedNames) {
		t.Fatalf("Expected %d fields, got %d", len(expectedNames), schema.NumFields())
	}
	for i, name := range expectedNames {
		if schema.Field(i).Name != name {
			t.Errorf("Field %d: expected %s, got %s", i, name, schema.Field(i).Name)
		}
	}

	contributing := schema.Field(3)
	if contributing.Type.ID() != arrow.LIST {
		t.Errorf("contributing_sensors: expected LIST, got %s", contributing.Type)
	}
}

func TestSensorStateSchema(t *testing.T) {
	schema := SensorStateSchema()
	if schema.NumFields() != 6 {
		t.Errorf("Expected 6 fields, got %d", schema.NumFields())
	}
	if schema.Field(1).Type.ID() != arrow.BOOL {
		t.Errorf("flagged: expected BOOL, got %s", schema.Field(1).Type)
	}
}
