package domain

import "time"

// Stage is the position of an item in the pipeline. It is never stored on its own:
// the directory and file name prefix of the item encode it.
type Stage string

const (
	StageFetched   Stage = "fetched"
	StageArchived  Stage = "archived"
	StagePrompted  Stage = "prompted"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
	StageEmpty     Stage = "empty"
)

// Terminal reports whether no further transition is defined from the stage.
func (s Stage) Terminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageEmpty:
		return true
	default:
		return false
	}
}

// Markers delimit the relevant part of a template-generated email body.
type Markers struct {
	Start string
	End   string
}

// Category identifies which template a message belongs to.
type Category struct {
	Name    string
	Markers *Markers
}

// Item is the unit of work moving through the pipeline.
type Item struct {
	Category string
	Day      time.Time
	Ordinal  int
	Stage    Stage
	Name     string
	Path     string
}

// DayStamp renders the calendar day the way file names carry it.
func (i Item) DayStamp() string {
	return i.Day.Format(DayLayout)
}

// DayLayout is the YYYYMMDD layout used in item names.
const DayLayout = "20060102"

// Message is a mail already reduced to the fields the pipeline consumes.
type Message struct {
	ID         string
	Subject    string
	From       string
	RawDate    string
	Body       string
	ReceivedAt time.Time
}

// Phase names one pass of the orchestrator.
type Phase string

const (
	PhaseRetrieve  Phase = "retrieve"
	PhaseTransform Phase = "transform"
	PhaseAutomate  Phase = "automate"
)

// AllPhases lists the passes in execution order.
var AllPhases = []Phase{PhaseRetrieve, PhaseTransform, PhaseAutomate}

// PhaseReport carries the per-phase counters, the only signal shared across phases.
type PhaseReport struct {
	Phase     Phase
	Processed int
	Failed    int
	Skipped   int
	Err       error
}

// RunReport summarises one orchestrator run.
type RunReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Phases     []PhaseReport
}

// Transition is an audit record of one stage change.
type Transition struct {
	ID       string
	RunID    string
	Item     Item
	From     Stage
	To       Stage
	Detail   string
	Recorded time.Time
}
