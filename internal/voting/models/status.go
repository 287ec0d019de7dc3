package models

type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusDraft:     {StatusScheduled, StatusActive, StatusCancelled},
	StatusScheduled: {StatusActive, StatusCancelled},
	StatusActive:    {StatusPaused, StatusEnded, StatusCancelled},
	StatusPaused:    {StatusActive, StatusEnded, StatusCancelled},
}

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusActive, StatusPaused, StatusEnded, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine has an edge from s to next.
// Guards beyond the edge itself live on Instance.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// IsEditable reports whether title, description and options may change.
func (s Status) IsEditable() bool {
	return s == StatusDraft
}

func (s Status) String() string { return string(s) }
