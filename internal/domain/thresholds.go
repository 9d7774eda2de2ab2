package domain

import "math"

// Thresholds: адаптивные пороги. Меняет их только Learner, остальные читают снимок.
type Thresholds struct {
	Autonomous float64 `mapstructure:"autonomous" json:"autonomous"`
	Validated  float64 `mapstructure:"validated" json:"validated"`
	Minimum    float64 `mapstructure:"minimum" json:"minimum"`
	RiskHigh   float64 `mapstructure:"risk_high" json:"risk_high"`
	RiskMedium float64 `mapstructure:"risk_medium" json:"risk_medium"`
}

// ConfidenceWeights: веса шести факторов уверенности. Сумма обязана быть 1.0.
type ConfidenceWeights struct {
	Historical  float64 `mapstructure:"historical"`
	Reliability float64 `mapstructure:"reliability"`
	Complexity  float64 `mapstructure:"complexity"`
	Clarity     float64 `mapstructure:"clarity"`
	Resources   float64 `mapstructure:"resources"`
	Context     float64 `mapstructure:"context"`
}

// WeightTolerance: допустимое отклонение суммы весов от 1.0.
const WeightTolerance = 1e-9

func (w ConfidenceWeights) Sum() float64 {
	return w.Historical + w.Reliability + w.Complexity + w.Clarity + w.Resources + w.Context
}

// Balanced: сумма весов равна 1.0 в пределах WeightTolerance.
func (w ConfidenceWeights) Balanced() bool {
	return math.Abs(w.Sum()-1.0) <= WeightTolerance
}

// LearningConfig: шаги и границы адаптации порога autonomous.
type LearningConfig struct {
	RelaxStep   float64 `mapstructure:"relax_step"`
	TightenStep float64 `mapstructure:"tighten_step"`
	Floor       float64 `mapstructure:"floor"`
	Ceiling     float64 `mapstructure:"ceiling"`
}

// Clamp ограничивает значение отрезком [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
