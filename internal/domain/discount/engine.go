package discount

// Evaluation is the result of running every candidate rule against an order.
type Evaluation struct {
	Candidates []Rule
	Reports    []Eligibility
	Resolution
}

// Report returns the eligibility of one rule.
func (e *Evaluation) Report(ruleID string) (Eligibility, bool) {
	for _, r := range e.Reports {
		if r.RuleID == ruleID {
			return r, true
		}
	}
	return Eligibility{}, false
}

// Engine runs eligibility checks and conflict resolution in one pure call.
// It holds no state and is safe for concurrent use.
type Engine struct {
	checker  Checker
	resolver Resolver
}

// NewEngine returns a ready Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate checks every rule against the order and resolves the eligible
// ones into a final price.
func (e *Engine) Evaluate(rules []Rule, o *Order, s Snapshot) Evaluation {
	var (
		reports  = make([]Eligibility, 0, len(rules))
		eligible = make([]*Rule, 0, len(rules))
	)
	for i := range rules {
		r := &rules[i]
		rep := e.checker.Check(r, o, s)
		reports = append(reports, rep)
		if rep.Eligible {
			eligible = append(eligible, r)
		}
	}
	return Evaluation{
		Candidates: rules,
		Reports:    reports,
		Resolution: e.resolver.Resolve(eligible, o),
	}
}
