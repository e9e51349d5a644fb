package proxy

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/model"
)

// Rotation selects how healthy public proxies are ordered inside a plan.
type Rotation int

const (
	// RotationSequential keeps list order.
	RotationSequential Rotation = iota
	// RotationRandom shuffles the list, never placing one proxy twice in a row.
	RotationRandom
)

// String returns "sequential" or "random".
func (r Rotation) String() string {
	if r == RotationRandom {
		return "random"
	}
	return "sequential"
}

// ParseRotation parses "sequential" or "random".
func ParseRotation(s string) (Rotation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequential":
		return RotationSequential, nil
	case "random":
		return RotationRandom, nil
	default:
		return RotationSequential, fmt.Errorf("unknown rotation %q", s)
	}
}

// Reuse decides what fills a plan when the budget is larger than the number
// of healthy public proxies.
type Reuse int

const (
	// ReuseCycle wraps around the healthy public proxies. When none is
	// healthy the gap is filled with direct attempts.
	ReuseCycle Reuse = iota
	// ReuseNone uses each public proxy once and fills the rest with direct attempts.
	ReuseNone
)

// String returns "cycle" or "none".
func (r Reuse) String() string {
	if r == ReuseNone {
		return "none"
	}
	return "cycle"
}

// ParseReuse parses "cycle" or "none".
func ParseReuse(s string) (Reuse, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cycle":
		return ReuseCycle, nil
	case "none":
		return ReuseNone, nil
	default:
		return ReuseCycle, fmt.Errorf("unknown proxy reuse policy %q", s)
	}
}

// Planner builds the attempt plan of each request. It is safe for concurrent use.
//
// A plan has the shape
//
//	[direct] [public...] [private] [direct]
//
// and always exactly budget entries. Public proxies benched by the tracker at
// build time are left out, and so is the private proxy when it is benched.
// With a budget of one or two the plan is direct only.
type Planner struct {
	budget   int
	public   []string
	private  string
	tracker  *HealthTracker
	rotation Rotation
	reuse    Reuse

	mu  sync.Mutex
	rnd *rand.Rand
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithRotation sets the rotation mode.
func WithRotation(r Rotation) PlannerOption {
	return func(p *Planner) { p.rotation = r }
}

// WithReuse sets the reuse policy.
func WithReuse(r Reuse) PlannerOption {
	return func(p *Planner) { p.reuse = r }
}

// WithRand sets the random source used by RotationRandom.
func WithRand(r *rand.Rand) PlannerOption {
	return func(p *Planner) {
		if r != nil {
			p.rnd = r
		}
	}
}

// NewPlanner returns a planner for budget attempts over the given proxies.
// A nil tracker treats every proxy as healthy. Budgets below one become one.
func NewPlanner(budget int, public []string, private string, tracker *HealthTracker, opts ...PlannerOption) *Planner {
	if budget < 1 {
		budget = 1
	}
	p := &Planner{
		budget:  budget,
		public:  append([]string(nil), public...),
		private: private,
		tracker: tracker,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rnd == nil {
		p.rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return p
}

// Budget returns the number of attempts in every plan.
func (p *Planner) Budget() int { return p.budget }

// Plan builds a fresh plan against the tracker's current state.
func (p *Planner) Plan() model.AttemptPlan {
	healthy := p.healthyPublic()
	privateOK := p.private != "" && !p.unhealthy(p.private)

	if p.budget <= 2 || (len(healthy) == 0 && !privateOK) {
		return directOnly(p.budget)
	}

	tail := make(model.AttemptPlan, 0, 2)
	if privateOK {
		tail = append(tail, model.Private(p.private))
	}
	tail = append(tail, model.Direct())

	slots := p.budget - 1 - len(tail)
	plan := make(model.AttemptPlan, 0, p.budget)
	plan = append(plan, model.Direct())
	plan = append(plan, p.publicRun(healthy, slots)...)
	plan = append(plan, tail...)
	return plan
}

func (p *Planner) unhealthy(addr string) bool {
	return p.tracker != nil && p.tracker.IsUnhealthy(addr)
}

func (p *Planner) healthyPublic() []string {
	out := make([]string, 0, len(p.public))
	for _, addr := range p.public {
		if !p.unhealthy(addr) {
			out = append(out, addr)
		}
	}
	return out
}

// publicRun returns exactly n attempts drawn from healthy.
func (p *Planner) publicRun(healthy []string, n int) model.AttemptPlan {
	run := make(model.AttemptPlan, 0, n)
	if n <= 0 {
		return run
	}

	order := p.order(healthy)
	for len(run) < n && len(order) > 0 {
		for _, addr := range order {
			if len(run) == n {
				break
			}
			run = append(run, model.Public(addr))
		}
		if p.reuse == ReuseNone {
			break
		}
		if p.rotation == RotationRandom {
			last := order[len(order)-1]
			order = p.order(healthy)
			if len(order) > 1 && order[0] == last {
				order[0], order[len(order)-1] = order[len(order)-1], order[0]
			}
		}
	}

	for len(run) < n {
		run = append(run, model.Direct())
	}
	return run
}

func (p *Planner) order(healthy []string) []string {
	out := append([]string(nil), healthy...)
	if p.rotation != RotationRandom || len(out) < 2 {
		return out
	}
	p.mu.Lock()
	p.rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	p.mu.Unlock()
	return out
}

func directOnly(n int) model.AttemptPlan {
	plan := make(model.AttemptPlan, n)
	for i := range plan {
		plan[i] = model.Direct()
	}
	return plan
}
