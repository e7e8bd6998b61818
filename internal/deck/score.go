package deck

import (
	"slices"
)

type scoreRule struct {
	tag    string
	weight int
	reason string
}

// Rules are evaluated in this order; the order of reasons is part of the contract.
var scoreRules = []scoreRule{
	{TagMeetingWithin2h, 50, "+50 meeting within 2h"},
	{TagDirectRequest, 35, "+35 direct request"},
	{TagUrgentKeyword, 25, "+25 escalation/urgent keyword"},
	{TagUnansweredRequest, 20, "+20 unanswered action request"},
	{TagLowSignal, -20, "-20 low signal/promotion"},
}

// ScoreSignal derives score and reasons from the signal's tags alone.
// Any previous score is replaced, not merged.
func ScoreSignal(s Signal) Signal {
	score := 0
	reasons := []string{}
	for _, rule := range scoreRules {
		if s.HasTag(rule.tag) {
			score += rule.weight
			reasons = append(reasons, rule.reason)
		}
	}
	s.Score = score
	s.ScoreReasons = reasons
	return s
}

// ScoreAndSort scores every signal and orders them by score descending, then
// timestamp ascending. Equal keys keep their input order.
func ScoreAndSort(signals []Signal) []Signal {
	ranked := make([]Signal, len(signals))
	for i, s := range signals {
		ranked[i] = ScoreSignal(s)
	}
	slices.SortStableFunc(ranked, func(a, b Signal) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		return a.Timestamp.Compare(b.Timestamp)
	})
	return ranked
}
