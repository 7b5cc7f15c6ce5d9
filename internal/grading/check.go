package grading

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Warning describes a suspicious rule. Warnings never block a submission; the
// server accepts any scheme and simply leaves unmatched scores ungraded.
type Warning struct {
	Index   int // rule index, -1 for scheme-wide findings
	Message string
}

func (w Warning) String() string {
	if w.Index < 0 {
		return w.Message
	}
	return fmt.Sprintf("rule %d: %s", w.Index+1, w.Message)
}

// Check inspects the scheme for inverted ranges, overlaps, gaps in the 0-100
// range and empty grade labels.
func (s *Scheme) Check() []Warning {
	var warnings []Warning

	if len(s.rules) == 0 {
		return []Warning{{Index: -1, Message: "scheme has no rules; every score will be ungraded"}}
	}

	for i, r := range s.rules {
		if r.Min > r.Max {
			warnings = append(warnings, Warning{Index: i, Message: fmt.Sprintf("min %s is greater than max %s", num(r.Min), num(r.Max))})
		}
		if r.Min < 0 || r.Max > 100 {
			warnings = append(warnings, Warning{Index: i, Message: fmt.Sprintf("range %s-%s extends outside 0-100", num(r.Min), num(r.Max))})
		}
		if strings.TrimSpace(r.Grade) == "" || r.Grade == "?" {
			warnings = append(warnings, Warning{Index: i, Message: "grade label is not set"})
		}
	}

	for i := range s.rules {
		for j := i + 1; j < len(s.rules); j++ {
			a, b := s.rules[i], s.rules[j]
			if a.Min > a.Max || b.Min > b.Max {
				continue
			}
			if a.Min <= b.Max && b.Min <= a.Max {
				warnings = append(warnings, Warning{
					Index:   j,
					Message: fmt.Sprintf("overlaps rule %d; scores in both ranges get %q", i+1, a.Grade),
				})
			}
		}
	}

	for _, g := range s.gaps() {
		warnings = append(warnings, Warning{Index: -1, Message: fmt.Sprintf("scores %s are not covered by any rule", g)})
	}
	return warnings
}

// gaps returns the whole-number ranges in 0-100 no rule covers. Scores are
// rounded before matching, so integer coverage is what counts.
func (s *Scheme) gaps() []string {
	type span struct{ lo, hi int }
	var spans []span
	for _, r := range s.rules {
		if r.Min > r.Max || math.IsNaN(r.Min) || math.IsNaN(r.Max) {
			continue
		}
		// Only 0-100 is reported; clamping also keeps huge bounds from
		// overflowing int.
		lo := int(math.Ceil(math.Max(r.Min, 0)))
		hi := int(math.Floor(math.Min(r.Max, 100)))
		if lo > hi {
			continue
		}
		spans = append(spans, span{lo, hi})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].lo < spans[j].lo })

	var out []string
	next := 0
	for _, sp := range spans {
		if sp.lo > next && next <= 100 {
			out = append(out, rangeText(next, min(sp.lo-1, 100)))
		}
		if sp.hi+1 > next {
			next = sp.hi + 1
		}
	}
	if next <= 100 {
		out = append(out, rangeText(next, 100))
	}
	return out
}

func rangeText(lo, hi int) string {
	if lo == hi {
		return fmt.Sprintf("%d", lo)
	}
	return fmt.Sprintf("%d-%d", lo, hi)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
