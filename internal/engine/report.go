package engine

import (
	"time"

	"fdroidbot/internal/dispatch"
)

type Outcome string

const (
	OutcomeBaselined      Outcome = "baselined"
	OutcomeUpToDate       Outcome = "up_to_date"
	OutcomeSuppressed     Outcome = "suppressed"
	OutcomeNotified       Outcome = "notified"
	OutcomeVetoed         Outcome = "vetoed"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeHookFailed     Outcome = "hook_failed"
	OutcomeDeliveryFailed Outcome = "delivery_failed"
	OutcomeError          Outcome = "error"
)

// Outcomes lists every outcome, in a stable order for reporting.
var Outcomes = []Outcome{
	OutcomeBaselined, OutcomeUpToDate, OutcomeSuppressed, OutcomeNotified, OutcomeVetoed,
	OutcomeSkipped, OutcomeHookFailed, OutcomeDeliveryFailed, OutcomeError,
}

// Result is what happened to one package in a pass.
type Result struct {
	RepoID      string
	PackageName string
	Observed    int64
	Stored      int64
	Seen        bool
	Outcome     Outcome
	Delivery    dispatch.Result
	Err         error
}

func (r Result) with(o Outcome) Result {
	r.Outcome = o
	return r
}

func (r Result) fail(o Outcome, err error) Result {
	r.Outcome = o
	r.Err = err
	return r
}

type Report struct {
	Started  time.Time
	Duration time.Duration
	Results  []Result
	Counts   map[Outcome]int
	// RepoErrors holds repositories whose index could not be read.
	RepoErrors []error
}

func newReport(started time.Time) *Report {
	return &Report{Started: started, Counts: map[Outcome]int{}}
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	r.Counts[res.Outcome]++
}

// Failed returns the packages that ended with an error.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Deliveries sums the delivery results of the pass.
func (r *Report) Deliveries() dispatch.Result {
	var total dispatch.Result
	for _, res := range r.Results {
		total.Attempted += res.Delivery.Attempted
		total.Delivered += res.Delivery.Delivered
		total.Failed += res.Delivery.Failed
	}
	return total
}
