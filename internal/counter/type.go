package counter

import (
	"fmt"
	"strings"
)

// CounterType identifies one of the well-known host performance counters.
type CounterType int

const (
	// Unknown is the zero value and is never valid at runtime.
	Unknown CounterType = iota
	Processor
	Memory
	Disk
)

// Types returns every valid counter type in display order.
func Types() []CounterType {
	return []CounterType{Processor, Memory, Disk}
}

func (t CounterType) String() string {
	switch t {
	case Processor:
		return "processor"
	case Memory:
		return "memory"
	case Disk:
		return "disk"
	}
	return "unknown"
}

// Valid reports whether t names a real counter.
func (t CounterType) Valid() bool {
	return t == Processor || t == Memory || t == Disk
}

// Validate returns ErrInvalidArgument for Unknown and out of range values.
func Validate(t CounterType) error {
	if !t.Valid() {
		return fmt.Errorf("%w: counter type %d", ErrInvalidArgument, int(t))
	}
	return nil
}

// Parse converts a config string such as "cpu" or "disk" to a CounterType.
func Parse(s string) (CounterType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu", "processor":
		return Processor, nil
	case "mem", "memory":
		return Memory, nil
	case "disk":
		return Disk, nil
	}
	return Unknown, fmt.Errorf("%w: counter type %q", ErrInvalidArgument, s)
}
