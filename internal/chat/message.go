// Package chat holds the conversation message model shared by the
// orchestrator, the context composer and the model adapters.
package chat

import (
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role int

const (
	RoleUser Role = iota + 1
	RoleAssistant
	RoleSystem
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	case RoleSystem:
		return "system"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ParseRole converts a wire role name to a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "user":
		return RoleUser, nil
	case "assistant":
		return RoleAssistant, nil
	case "system":
		return RoleSystem, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

func (r Role) MarshalText() ([]byte, error) {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return []byte(r.String()), nil
	}
	return nil, fmt.Errorf("cannot marshal %s", r)
}

func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Message is one turn of a conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
