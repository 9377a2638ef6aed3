package ingest

import "fmt"

type OutcomeKind int

const (
	OutcomeCreated OutcomeKind = iota + 1
	OutcomeUpdated
	OutcomeSkipped
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the result of pushing one record through the pipeline.
type Outcome struct {
	Kind     OutcomeKind
	ID       int64
	Reason   string
	Err      error
	Enriched bool
}

func Created(id int64) Outcome { return Outcome{Kind: OutcomeCreated, ID: id} }
func Updated(id int64) Outcome { return Outcome{Kind: OutcomeUpdated, ID: id} }
func Skipped(reason string) Outcome { return Outcome{Kind: OutcomeSkipped, Reason: reason} }
func Failed(err error) Outcome { return Outcome{Kind: OutcomeFailed, Err: err} }

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSkipped:
		return fmt.Sprintf("skipped(%s)", o.Reason)
	case OutcomeFailed:
		return fmt.Sprintf("failed(%v)", o.Err)
	}
	return o.Kind.String()
}
