package models

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
)

// Selection is the content of a non-abstention ballot. The concrete type is
// fixed by the instance type: Single, Multiple, Ranked or Approval.
type Selection interface {
	Kind() VotingType
	// OptionIDs lists referenced options; for Ranked, in preference order.
	OptionIDs() []id.OptionID
	isSelection()
}

type Single struct {
	Option id.OptionID
}

type Multiple struct {
	Options []id.OptionID
}

type Approval struct {
	Options []id.OptionID
}

// RankedChoice places one option at a preference rank; 1 is most preferred.
type RankedChoice struct {
	Option id.OptionID `json:"option_id"`
	Rank   int         `json:"rank"`
}

// Ranked holds choices sorted by ascending rank.
type Ranked struct {
	Choices []RankedChoice
}

func (Single) Kind() VotingType   { return TypeSimple }
func (Multiple) Kind() VotingType { return TypeMultiple }
func (Approval) Kind() VotingType { return TypeApproval }
func (Ranked) Kind() VotingType   { return TypeRanked }

func (s Single) OptionIDs() []id.OptionID   { return []id.OptionID{s.Option} }
func (s Multiple) OptionIDs() []id.OptionID { return append([]id.OptionID(nil), s.Options...) }
func (s Approval) OptionIDs() []id.OptionID { return append([]id.OptionID(nil), s.Options...) }
func (s Ranked) OptionIDs() []id.OptionID {
	out := make([]id.OptionID, len(s.Choices))
	for i, c := range s.Choices {
		out[i] = c.Option
	}
	return out
}

func (Single) isSelection()   {}
func (Multiple) isSelection() {}
func (Approval) isSelection() {}
func (Ranked) isSelection()   {}

// NewRanked sorts choices by rank.
func NewRanked(choices []RankedChoice) Ranked {
	c := append([]RankedChoice(nil), choices...)
	sort.SliceStable(c, func(i, j int) bool { return c[i].Rank < c[j].Rank })
	return Ranked{Choices: c}
}

func invalidSelection(msg string) error {
	return dErrors.New(dErrors.CodeInvalidSelection, msg)
}

// ValidateSelection checks a selection against the instance it is cast in.
// A nil selection is an abstention. Every referenced option must exist in the
// instance and still accept ballots.
func ValidateSelection(inst *Instance, sel Selection) error {
	if sel == nil {
		if !inst.Policy.AllowAbstention {
			return invalidSelection("abstention is not allowed in this voting")
		}
		return nil
	}
	if sel.Kind() != inst.Type {
		return invalidSelection(fmt.Sprintf("a %s voting requires a %s selection", inst.Type, inst.Type))
	}

	ids := sel.OptionIDs()
	switch s := sel.(type) {
	case Single:
		if s.Option.IsNil() {
			return invalidSelection("exactly one option must be selected")
		}
	case Multiple:
		if len(ids) == 0 {
			return invalidSelection("at least one option must be selected")
		}
		if len(ids) > inst.Policy.MaxVotesPerUser {
			return invalidSelection(fmt.Sprintf("at most %d options may be selected", inst.Policy.MaxVotesPerUser))
		}
	case Approval:
		if len(ids) == 0 {
			return invalidSelection("an empty approval is recorded as an abstention")
		}
	case Ranked:
		if len(s.Choices) == 0 {
			return invalidSelection("at least one option must be ranked")
		}
		ranks := make(map[int]struct{}, len(s.Choices))
		for _, c := range s.Choices {
			if c.Rank < 1 {
				return invalidSelection("ranks start at 1")
			}
			if _, dup := ranks[c.Rank]; dup {
				return invalidSelection("each rank may be used once")
			}
			if c.Rank > len(s.Choices) {
				return invalidSelection(fmt.Sprintf("ranks must run from 1 to %d without gaps", len(s.Choices)))
			}
			ranks[c.Rank] = struct{}{}
		}
	}

	seen := make(map[id.OptionID]struct{}, len(ids))
	for _, optionID := range ids {
		if _, dup := seen[optionID]; dup {
			return invalidSelection("an option may only be selected once")
		}
		seen[optionID] = struct{}{}
		opt, ok := inst.Option(optionID)
		if !ok {
			return invalidSelection("option does not belong to this voting")
		}
		if !opt.IsActive {
			return invalidSelection("option is no longer accepting votes")
		}
	}
	return nil
}

type selectionJSON struct {
	Type      VotingType     `json:"type"`
	OptionIDs []id.OptionID  `json:"option_ids,omitempty"`
	Rankings  []RankedChoice `json:"rankings,omitempty"`
}

// EncodeSelection serializes a selection for storage. Nil encodes as JSON null.
func EncodeSelection(sel Selection) ([]byte, error) {
	if sel == nil {
		return []byte("null"), nil
	}
	doc := selectionJSON{Type: sel.Kind()}
	if r, ok := sel.(Ranked); ok {
		doc.Rankings = r.Choices
	} else {
		doc.OptionIDs = sel.OptionIDs()
	}
	return json.Marshal(doc)
}

// DecodeSelection is the inverse of EncodeSelection.
func DecodeSelection(data []byte) (Selection, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var doc selectionJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode selection: %w", err)
	}
	switch doc.Type {
	case TypeSimple:
		if len(doc.OptionIDs) != 1 {
			return nil, fmt.Errorf("decode selection: simple selection with %d options", len(doc.OptionIDs))
		}
		return Single{Option: doc.OptionIDs[0]}, nil
	case TypeMultiple:
		return Multiple{Options: doc.OptionIDs}, nil
	case TypeApproval:
		return Approval{Options: doc.OptionIDs}, nil
	case TypeRanked:
		return NewRanked(doc.Rankings), nil
	default:
		return nil, fmt.Errorf("decode selection: unknown type %q", doc.Type)
	}
}
