package game

import "fmt"

// Op is a patch operation kind.
type Op string

const (
	OpSet       Op = "SET"
	OpDelete    Op = "DELETE"
	OpIncrement Op = "INCREMENT"
	OpAppend    Op = "APPEND"
)

// Patch is one typed mutation of a single dot-delimited path in a room's
// state mapping. Patches are the unit of mutation, broadcast, and wire
// exchange; they carry no clock, so ordering is whatever the store saw.
type Patch struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
	Op    Op     `json:"op"`
}

// ChangeEvent is published on a room's change channel after a state
// update applies at least one patch. Patches arrive op-normalized:
// INCREMENT and APPEND are rewritten as SETs of their computed values.
type ChangeEvent struct {
	RoomID       string  `json:"roomId"`
	FromPlayerID int     `json:"fromPlayerId"`
	Patches      []Patch `json:"patches"`
	Timestamp    int64   `json:"timestamp"`
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asArray(v any) ([]any, bool) {
	arr, ok := v.([]any)
	return arr, ok
}

func errBadOperand(op Op, want string) error {
	return fmt.Errorf("%s requires %s value", op, want)
}
