package service

import "strings"

type Plan struct {
	Type                   string
	Name                   string
	DurationMinutes        int
	PriceCents             int
	Currency               string
	QuestionsIncluded      int
	CodingSessionsIncluded int
}

const defaultPlanDuration = 60

var planCatalog = map[string]Plan{
	"pay-as-you-go": {Type: "pay-as-you-go", Name: "Pay-As-You-Go", DurationMinutes: 60, PriceCents: 1800, Currency: "usd"},
	"basic":         {Type: "basic", Name: "Basic", DurationMinutes: 30, PriceCents: 999, Currency: "usd"},
	"standard":      {Type: "standard", Name: "Standard", DurationMinutes: 60, PriceCents: 1800, Currency: "usd"},
	"pro":           {Type: "pro", Name: "Pro", DurationMinutes: 240, PriceCents: 2900, Currency: "usd"},
	"elite":         {Type: "elite", Name: "Elite", DurationMinutes: 180, PriceCents: 4900, Currency: "usd"},
	"coach":         {Type: "coach", Name: "Coach", DurationMinutes: 1200, PriceCents: 9900, Currency: "usd"},
	"enterprise":    {Type: "enterprise", Name: "Enterprise", DurationMinutes: 30000, PriceCents: 0, Currency: "usd"},
	"question-analysis": {
		Type: "question-analysis", Name: "Question Analysis Plan", DurationMinutes: 60,
		Currency: "inr", QuestionsIncluded: 10,
	},
	"coding-helper": {
		Type: "coding-helper", Name: "Coding Helper Plan", DurationMinutes: 60,
		Currency: "inr", CodingSessionsIncluded: 10,
	},
}

// LookupPlan returns the catalog entry for planType. Unknown plans get a
// 60 minute session with no quota so checkout never fails on a new plan name.
func LookupPlan(planType string) (Plan, bool) {
	key := strings.ToLower(strings.TrimSpace(planType))
	if plan, ok := planCatalog[key]; ok {
		return plan, true
	}
	return Plan{
		Type:            key,
		Name:            planType,
		DurationMinutes: defaultPlanDuration,
		Currency:        "usd",
	}, false
}

// IsQuotaPlan reports whether the plan sells a question or coding quota
// instead of plain session time.
func (p Plan) IsQuotaPlan() bool {
	return p.QuestionsIncluded > 0 || p.CodingSessionsIncluded > 0
}
