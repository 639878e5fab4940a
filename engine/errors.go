package engine

import "errors"

// Common errors for fusion operations
var (
	ErrInsufficientSensors = errors.New("insufficient sensors for configured fault tolerance")
	ErrInvalidConfig       = errors.New("invalid fusion config")
	ErrMalformedReading    = errors.New("malformed reading")
	ErrOutOfOrder          = errors.New("batch timestamp older than last processed timestep")
	ErrLateReading         = errors.New("reading arrived after its timestep was emitted")
	ErrDuplicateReading    = errors.New("duplicate reading for sensor and timestep")
	ErrQueueFull           = errors.New("pipeline queue is full")
	ErrPipelineStopped     = errors.New("pipeline is not running")
)
