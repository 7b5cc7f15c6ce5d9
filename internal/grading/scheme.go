// Package grading holds the editable grading scheme sent with every exam upload.
package grading

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/examlytics/examctl/internal/models"
)

var (
	// ErrIndexOutOfRange is returned when a rule index does not exist.
	ErrIndexOutOfRange = errors.New("rule index out of range")
	// ErrUnknownPreset is returned by ApplyPreset for an unrecognised name.
	ErrUnknownPreset = errors.New("unknown preset")
	// ErrUnknownField is returned by UpdateRule for a field other than
	// min, max, grade, remark or points.
	ErrUnknownField = errors.New("unknown rule field")
)

// Field names a GradingRule attribute. The values match the JSON keys.
type Field string

const (
	FieldMin    Field = "min"
	FieldMax    Field = "max"
	FieldGrade  Field = "grade"
	FieldRemark Field = "remark"
	FieldPoints Field = "points"
)

// ParseField accepts a field name in any case.
func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FieldMin, FieldMax, FieldGrade, FieldRemark, FieldPoints:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
}

// Scheme is an ordered list of rules plus the name of the preset it came from.
// Any edit turns the tag into CustomTag. A Scheme is not safe for concurrent use.
type Scheme struct {
	rules []models.GradingRule
	tag   string
}

// New returns a scheme initialised from the default preset.
func New() *Scheme {
	s := &Scheme{}
	_ = s.ApplyPreset(DefaultPreset())
	return s
}

// FromRules builds a scheme from explicit rules. The tag is the matching
// preset name, or CustomTag.
func FromRules(rules []models.GradingRule) *Scheme {
	return &Scheme{
		rules: append([]models.GradingRule(nil), rules...),
		tag:   MatchPreset(rules),
	}
}

// Tag returns the preset name or CustomTag.
func (s *Scheme) Tag() string { return s.tag }

// Len returns the number of rules.
func (s *Scheme) Len() int { return len(s.rules) }

// Rules returns a copy of the rules in order.
func (s *Scheme) Rules() []models.GradingRule {
	return append([]models.GradingRule(nil), s.rules...)
}

// Rule returns the rule at index.
func (s *Scheme) Rule(index int) (models.GradingRule, error) {
	if err := s.checkIndex(index); err != nil {
		return models.GradingRule{}, err
	}
	return s.rules[index], nil
}

// ApplyPreset replaces every rule with the named preset's rules.
func (s *Scheme) ApplyPreset(name string) error {
	rules, ok := Preset(name)
	if !ok {
		return fmt.Errorf("%w: %q (available: %s)", ErrUnknownPreset, name, strings.Join(PresetNames(), ", "))
	}
	s.rules = rules
	s.tag = name
	return nil
}

// UpdateRule sets one field of the rule at index from its text form. The tag
// becomes CustomTag even when the value is unchanged.
func (s *Scheme) UpdateRule(index int, field Field, value string) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}

	rule := s.rules[index]
	switch field {
	case FieldGrade:
		rule.Grade = value
	case FieldRemark:
		rule.Remark = value
	case FieldMin, FieldMax, FieldPoints:
		n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", field, value, err)
		}
		switch field {
		case FieldMin:
			rule.Min = n
		case FieldMax:
			rule.Max = n
		default:
			rule.Points = n
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	s.rules[index] = rule
	s.tag = CustomTag
	return nil
}

// SetRule replaces the rule at index wholesale.
func (s *Scheme) SetRule(index int, rule models.GradingRule) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	s.rules[index] = rule
	s.tag = CustomTag
	return nil
}

// AddRule appends a placeholder rule and returns its index.
func (s *Scheme) AddRule() int {
	s.rules = append(s.rules, models.GradingRule{Min: 0, Max: 0, Grade: "?", Remark: "", Points: 0})
	s.tag = CustomTag
	return len(s.rules) - 1
}

// RemoveRule deletes the rule at index, keeping the order of the rest.
func (s *Scheme) RemoveRule(index int) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	s.rules = append(s.rules[:index:index], s.rules[index+1:]...)
	s.tag = CustomTag
	return nil
}

func (s *Scheme) checkIndex(index int) error {
	if index < 0 || index >= len(s.rules) {
		return fmt.Errorf("%w: %d (scheme has %d rules)", ErrIndexOutOfRange, index, len(s.rules))
	}
	return nil
}

// MarshalJSON encodes the rules as the JSON array expected in the
// grading_scheme form field. The tag is not sent.
func (s *Scheme) MarshalJSON() ([]byte, error) {
	if s == nil || s.rules == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.rules)
}

// UnmarshalJSON accepts a JSON array of rules.
func (s *Scheme) UnmarshalJSON(data []byte) error {
	var rules []models.GradingRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return fmt.Errorf("grading scheme: %w", err)
	}
	*s = *FromRules(rules)
	return nil
}
