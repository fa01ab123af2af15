package conversation

import "fmt"

// State is the document lifecycle of a Conversation.
type State int

const (
	StateNoDocument State = iota
	StateIndexBuilding
	StateReady
)

func (s State) String() string {
	switch s {
	case StateNoDocument:
		return "no_document"
	case StateIndexBuilding:
		return "index_building"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, v := range []State{StateNoDocument, StateIndexBuilding, StateReady} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}
