package eligibility

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	childmodels "vaxledger/internal/child/models"
	"vaxledger/internal/records/models"
	"vaxledger/internal/schedule"
	id "vaxledger/pkg/domain"
	dErrors "vaxledger/pkg/domain-errors"
	"vaxledger/pkg/platform/sentinel"
	"vaxledger/pkg/requestcontext"
)

// Rule names an eligibility check.
type Rule string

const (
	RuleSchoolReadiness Rule = "school_readiness"
	RuleCompletion      Rule = "completion"
	RuleReward          Rule = "reward"
)

// ParseRule validates a rule name taken from a request path.
func ParseRule(raw string) (Rule, error) {
	switch r := Rule(strings.ToLower(strings.TrimSpace(raw))); r {
	case RuleSchoolReadiness, RuleCompletion, RuleReward:
		return r, nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "unknown eligibility type: "+raw)
	}
}

type ChildLookup interface {
	FindByID(ctx context.Context, childID id.ChildID) (*childmodels.Child, error)
}

type DoseLister interface {
	ListByChild(ctx context.Context, childID id.ChildID) ([]models.DoseStatus, error)
}

type EventLister interface {
	ListByChild(ctx context.Context, childID id.ChildID) ([]models.ImmunizationEvent, error)
}

type Catalog interface {
	Required() ([]schedule.Entry, error)
	RequiredWithin(labels []string) ([]schedule.Entry, error)
}

// Progress is lifetime completion against the whole required catalog.
type Progress struct {
	ChildID               id.ChildID
	ChildAgeMonths        int
	CompletedCount        int
	TotalRequired         int
	CompletionRatePercent int
	MissingVaccines       []string
}

// Verdict is the outcome of one eligibility rule. Reason is always set.
type Verdict struct {
	Rule                  Rule
	Eligible              bool
	Reason                string
	ChildAgeMonths        int
	CompletionRatePercent int
	Required              int
	Completed             int
	Missing               []string
}

// Engine gathers a child's records and applies the eligibility rules.
type Engine struct {
	children ChildLookup
	doses    DoseLister
	events   EventLister
	catalog  Catalog
	logger   *slog.Logger
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func NewEngine(children ChildLookup, doses DoseLister, events EventLister, catalog Catalog, opts ...Option) *Engine {
	e := &Engine{children: children, doses: doses, events: events, catalog: catalog}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// snapshot is what every rule reads.
type snapshot struct {
	child     *childmodels.Child
	ageMonths int
	completed map[schedule.Key]bool
}

// gather loads the child, its dose statuses and its event history in parallel.
// A dose counts as completed if its status says so or an event records it.
func (e *Engine) gather(ctx context.Context, childID id.ChildID) (*snapshot, error) {
	g, gctx := errgroup.WithContext(ctx)

	var (
		child    *childmodels.Child
		statuses []models.DoseStatus
		events   []models.ImmunizationEvent
	)
	g.Go(func() error {
		c, err := e.children.FindByID(gctx, childID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "child not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load child")
		}
		child = c
		return nil
	})
	g.Go(func() error {
		s, err := e.doses.ListByChild(gctx, childID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list dose statuses")
		}
		statuses = s
		return nil
	})
	g.Go(func() error {
		ev, err := e.events.ListByChild(gctx, childID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list immunization events")
		}
		events = ev
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	completed := make(map[schedule.Key]bool, len(statuses)+len(events))
	for _, d := range statuses {
		if d.Status == models.DoseCompleted {
			completed[d.Key()] = true
		}
	}
	for _, ev := range events {
		completed[ev.Key()] = true
	}

	return &snapshot{
		child:     child,
		ageMonths: AgeInMonths(child.BirthDate, requestcontext.Now(ctx)),
		completed: completed,
	}, nil
}

// ProgressSummary reports completion against the entire required catalog,
// regardless of the child's current age.
func (e *Engine) ProgressSummary(ctx context.Context, childID id.ChildID) (*Progress, error) {
	snap, err := e.gather(ctx, childID)
	if err != nil {
		return nil, err
	}
	required, err := e.catalog.Required()
	if err != nil {
		return nil, err
	}
	tally := Evaluate(required, snap.completed)
	e.logExtra(ctx, childID, "progress", tally)

	return &Progress{
		ChildID:               childID,
		ChildAgeMonths:        snap.ageMonths,
		CompletedCount:        tally.Completed,
		TotalRequired:         tally.Required,
		CompletionRatePercent: tally.Rate(),
		MissingVaccines:       tally.Missing,
	}, nil
}

func (e *Engine) SchoolReadiness(ctx context.Context, childID id.ChildID) (*Verdict, error) {
	return e.Check(ctx, childID, RuleSchoolReadiness)
}

func (e *Engine) CompletionEligibility(ctx context.Context, childID id.ChildID) (*Verdict, error) {
	return e.Check(ctx, childID, RuleCompletion)
}

// RewardEligibility requires the whole required catalog and has no age gate.
func (e *Engine) RewardEligibility(ctx context.Context, childID id.ChildID) (*Verdict, error) {
	return e.Check(ctx, childID, RuleReward)
}

// Check evaluates rule for the child. Not being eligible is a verdict, not an error.
func (e *Engine) Check(ctx context.Context, childID id.ChildID, rule Rule) (*Verdict, error) {
	var (
		cutoff   int
		required []schedule.Entry
		err      error
	)
	switch rule {
	case RuleSchoolReadiness:
		cutoff = SchoolReadinessAgeMonths
		required, err = e.catalog.RequiredWithin(schedule.SchoolReadinessBuckets)
	case RuleCompletion:
		cutoff = CompletionAgeMonths
		required, err = e.catalog.RequiredWithin(schedule.CompletionBuckets)
	case RuleReward:
		required, err = e.catalog.Required()
	default:
		return nil, dErrors.New(dErrors.CodeValidation, "unknown eligibility type: "+string(rule))
	}
	if err != nil {
		return nil, err
	}

	snap, err := e.gather(ctx, childID)
	if err != nil {
		return nil, err
	}
	tally := Evaluate(required, snap.completed)
	e.logExtra(ctx, childID, string(rule), tally)

	v := &Verdict{
		Rule:                  rule,
		ChildAgeMonths:        snap.ageMonths,
		CompletionRatePercent: tally.Rate(),
		Required:              tally.Required,
		Completed:             tally.Completed,
		Missing:               tally.Missing,
	}
	switch {
	case snap.ageMonths < cutoff:
		v.Reason = fmt.Sprintf("child is %d months old; %s requires at least %d months", snap.ageMonths, rule, cutoff)
	case tally.Required == 0:
		v.Reason = "no required doses in schedule"
	case !tally.Complete():
		v.Reason = fmt.Sprintf("%d of %d required doses completed (%d%%); missing: %s",
			tally.Completed, tally.Required, tally.Rate(), strings.Join(tally.Missing, ", "))
	default:
		v.Eligible = true
		v.Reason = fmt.Sprintf("all %d required doses completed", tally.Required)
	}
	return v, nil
}

func (e *Engine) logExtra(ctx context.Context, childID id.ChildID, rule string, t Tally) {
	if t.Extra == 0 {
		return
	}
	e.logger.InfoContext(ctx, "completed doses outside required set excluded",
		"child_id", childID.String(),
		"rule", rule,
		"extra", t.Extra,
		"request_id", requestcontext.RequestID(ctx),
	)
}
