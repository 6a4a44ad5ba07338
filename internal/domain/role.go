package domain

import (
	"fmt"
	"strings"
)

type Role int

const (
	RoleUnknown Role = iota
	RoleProducer
	RoleConsumer
	RoleUplinkProducer
	RoleUplinkConsumer
)

// Direction separates the two audio paths sharing an identity.
// Frames never cross directions.
type Direction int

const (
	Downlink Direction = iota
	Uplink

	NumDirections = 2
)

func (d Direction) String() string {
	if d == Uplink {
		return "uplink"
	}
	return "downlink"
}

func ParseRole(raw string) (Role, error) {
	s := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "_", "-")
	switch s {
	case "producer":
		return RoleProducer, nil
	case "consumer":
		return RoleConsumer, nil
	case "uplink-producer":
		return RoleUplinkProducer, nil
	case "uplink-consumer":
		return RoleUplinkConsumer, nil
	}
	return RoleUnknown, fmt.Errorf("unknown role %q", raw)
}

func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	case RoleUplinkProducer:
		return "uplink-producer"
	case RoleUplinkConsumer:
		return "uplink-consumer"
	default:
		return "unknown"
	}
}

func (r Role) Valid() bool { return r >= RoleProducer && r <= RoleUplinkConsumer }

// IsProducer reports whether the role emits frames (single slot per identity).
func (r Role) IsProducer() bool { return r == RoleProducer || r == RoleUplinkProducer }

func (r Role) Direction() Direction {
	if r == RoleUplinkProducer || r == RoleUplinkConsumer {
		return Uplink
	}
	return Downlink
}

// Counterpart returns the complementary role on the same direction.
func (r Role) Counterpart() Role {
	switch r {
	case RoleProducer:
		return RoleConsumer
	case RoleConsumer:
		return RoleProducer
	case RoleUplinkProducer:
		return RoleUplinkConsumer
	case RoleUplinkConsumer:
		return RoleUplinkProducer
	default:
		return RoleUnknown
	}
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
