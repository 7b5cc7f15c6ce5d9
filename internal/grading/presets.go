package grading

import "github.com/examlytics/examctl/internal/models"

// Preset names. CustomTag marks a scheme that no longer matches a preset.
const (
	PresetCBC     = "CBC"
	PresetNumeric = "Numeric"
	CustomTag     = "Custom"
)

// presetOrder is the order presets are offered in; the first one is the default.
var presetOrder = []string{PresetCBC, PresetNumeric}

var presets = map[string][]models.GradingRule{
	PresetCBC: {
		{Min: 80, Max: 100, Grade: "EE", Remark: "Exceeding Expectations", Points: 4},
		{Min: 60, Max: 79, Grade: "ME", Remark: "Meeting Expectations", Points: 3},
		{Min: 40, Max: 59, Grade: "AE", Remark: "Approaching Expectations", Points: 2},
		{Min: 0, Max: 39, Grade: "BE", Remark: "Below Expectations", Points: 1},
	},
	PresetNumeric: {
		{Min: 90, Max: 100, Grade: "8", Remark: "Exceeding Expectations 1", Points: 8},
		{Min: 75, Max: 89, Grade: "7", Remark: "Exceeding Expectations 2", Points: 7},
		{Min: 58, Max: 74, Grade: "6", Remark: "Meeting Expectations 1", Points: 6},
		{Min: 41, Max: 57, Grade: "5", Remark: "Meeting Expectations 2", Points: 5},
		{Min: 31, Max: 40, Grade: "4", Remark: "Approaching Expectations 1", Points: 4},
		{Min: 21, Max: 30, Grade: "3", Remark: "Approaching Expectations 2", Points: 3},
		{Min: 11, Max: 20, Grade: "2", Remark: "Below Expectations 1", Points: 2},
		{Min: 0, Max: 10, Grade: "1", Remark: "Below Expectations 2", Points: 1},
	},
}

// PresetNames lists the built-in presets, default first.
func PresetNames() []string {
	return append([]string(nil), presetOrder...)
}

// DefaultPreset is the preset a new scheme starts from.
func DefaultPreset() string { return presetOrder[0] }

// Preset returns a copy of the named preset's rules.
func Preset(name string) ([]models.GradingRule, bool) {
	rules, ok := presets[name]
	if !ok {
		return nil, false
	}
	return append([]models.GradingRule(nil), rules...), true
}

// MatchPreset returns the name of the preset whose rules equal rules exactly,
// or CustomTag.
func MatchPreset(rules []models.GradingRule) string {
	for _, name := range presetOrder {
		if equalRules(presets[name], rules) {
			return name
		}
	}
	return CustomTag
}

func equalRules(a, b []models.GradingRule) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
