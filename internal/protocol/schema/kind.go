package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies which module a command addresses.
type Kind uint8

const (
	KindUnknown      Kind = 0
	KindPower        Kind = 1
	KindStorage      Kind = 2
	KindConnectivity Kind = 3
	KindActuator     Kind = 4
	KindConfig       Kind = 5

	// KindError is reserved for peripheral-originated error replies.
	KindError Kind = 15
)

var kindNames = map[Kind]string{
	KindUnknown:      "unknown",
	KindPower:        "power",
	KindStorage:      "storage",
	KindConnectivity: "connectivity",
	KindActuator:     "actuator",
	KindConfig:       "config",
	KindError:        "error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Routable reports whether a module may be registered for k.
func (k Kind) Routable() bool {
	return k != KindUnknown && k != KindError
}

// ParseKind resolves a kind by name or numeric value.
func ParseKind(raw string) (Kind, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for k, name := range kindNames {
		if name == raw {
			return k, k != KindUnknown
		}
	}
	if n, err := strconv.ParseUint(raw, 10, 8); err == nil {
		if _, ok := kindNames[Kind(n)]; ok && Kind(n) != KindUnknown {
			return Kind(n), true
		}
	}
	return KindUnknown, false
}
