package models

// GradingRule maps an inclusive score range to a grade. Min <= Max is expected
// but not enforced.
type GradingRule struct {
	Min    float64 `json:"min" yaml:"min"`
	Max    float64 `json:"max" yaml:"max"`
	Grade  string  `json:"grade" yaml:"grade"`
	Remark string  `json:"remark" yaml:"remark"`
	Points float64 `json:"points" yaml:"points"`
}
