package reconcile

import "fmt"

// Phase is a step of the placed-order edit pipeline.
type Phase string

const (
	PhaseNone         Phase = "none"
	PhaseEditCreated  Phase = "edit_created"
	PhaseStaleRemoved Phase = "stale_removed"
	PhaseItemAdded    Phase = "item_added"
	PhaseCommitted    Phase = "committed"
)

var phaseTransitions = map[Phase][]Phase{
	PhaseNone:         {PhaseEditCreated},
	PhaseEditCreated:  {PhaseStaleRemoved, PhaseItemAdded},
	PhaseStaleRemoved: {PhaseItemAdded},
	PhaseItemAdded:    {PhaseCommitted},
}

// Phases reports how far a placed-order edit progressed. A value with
// EditCreated set and Committed unset means an uncommitted edit session was
// left behind on Shopify. StaleMissing counts stale surcharge lines the
// edit session did not contain, which points at an inconsistent remote view.
type Phases struct {
	EditCreated  bool   `json:"editCreated"`
	StaleRemoved bool   `json:"staleRemoved"`
	ItemAdded    bool   `json:"itemAdded"`
	Committed    bool   `json:"committed"`
	EditID       string `json:"editId,omitempty"`
	StaleMissing int    `json:"staleMissing,omitempty"`
}

// Last returns the furthest phase reached.
func (p Phases) Last() Phase {
	switch {
	case p.Committed:
		return PhaseCommitted
	case p.ItemAdded:
		return PhaseItemAdded
	case p.StaleRemoved:
		return PhaseStaleRemoved
	case p.EditCreated:
		return PhaseEditCreated
	default:
		return PhaseNone
	}
}

// Partial reports whether an edit was opened but not committed.
func (p Phases) Partial() bool { return p.EditCreated && !p.Committed }

// editMachine enforces the phase order of a placed-order edit.
type editMachine struct {
	state  Phase
	phases Phases
}

func newEditMachine() *editMachine {
	return &editMachine{state: PhaseNone}
}

func (m *editMachine) advance(next Phase) error {
	for _, allowed := range phaseTransitions[m.state] {
		if allowed != next {
			continue
		}
		m.state = next
		switch next {
		case PhaseEditCreated:
			m.phases.EditCreated = true
		case PhaseStaleRemoved:
			m.phases.StaleRemoved = true
		case PhaseItemAdded:
			m.phases.ItemAdded = true
		case PhaseCommitted:
			m.phases.Committed = true
		}
		return nil
	}
	return fmt.Errorf("reconcile: illegal phase transition %s -> %s", m.state, next)
}

func (m *editMachine) snapshot() *Phases {
	p := m.phases
	return &p
}
