package grading

import (
	"math"

	"github.com/examlytics/examctl/internal/models"
)

// Result is the outcome of grading one score.
type Result struct {
	Grade   string
	Remark  string
	Points  float64
	Matched bool
	Rule    int // index of the matching rule, -1 when unmatched
}

var notGraded = Result{Grade: "-", Remark: "Not Graded", Points: 0, Rule: -1}

// Grade previews how the server grades score: the score is rounded half to
// even, then the first rule with Min <= score <= Max wins.
func (s *Scheme) Grade(score float64) Result {
	return gradeRules(s.rules, score)
}

func gradeRules(rules []models.GradingRule, score float64) Result {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return Result{Grade: "-", Rule: -1}
	}
	rounded := math.RoundToEven(score)
	for i, r := range rules {
		if r.Min <= rounded && rounded <= r.Max {
			return Result{Grade: r.Grade, Remark: r.Remark, Points: r.Points, Matched: true, Rule: i}
		}
	}
	return notGraded
}
