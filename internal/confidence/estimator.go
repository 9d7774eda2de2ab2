package confidence

import (
	"fmt"
	"strings"

	"github.com/xela07ax/spaceai-autonomy/internal/domain"
)

// complexityFactor: строго убывает с ростом сложности
var complexityFactor = map[domain.Complexity]float64{
	domain.ComplexityLow:    0.9,
	domain.ComplexityMedium: 0.6,
	domain.ComplexityHigh:   0.3,
}

type Config struct {
	Weights domain.ConfidenceWeights
	// Neutral: значение historical_success и надежности исполнителя без наблюдений
	Neutral float64
}

// Estimator: чистая функция над ситуацией, анализом и похожей историей.
// Веса проверяются при загрузке конфигурации, здесь не перенормируются.
type Estimator struct {
	cfg Config
}

func NewEstimator(cfg Config) *Estimator {
	return &Estimator{cfg: cfg}
}

// Estimate считает шесть факторов и их взвешенную сумму в [0,1].
func (e *Estimator) Estimate(s *domain.Situation, a domain.SituationAnalysis, history []domain.DecisionLogEntry) domain.ConfidenceScore {
	historical, samples := e.historicalSuccess(history)

	factors := map[string]float64{
		domain.FactorHistoricalSuccess:    historical,
		domain.FactorAgentReliability:     e.agentReliability(a),
		domain.FactorComplexity:           complexityFactor[a.Complexity.Normalize()],
		domain.FactorTaskClarity:          taskClarity(s.Task),
		domain.FactorResourceAvailability: resourceAvailability(a),
		domain.FactorContextQuality:       contextQuality(a),
	}
	for k, v := range factors {
		factors[k] = domain.Clamp(v, 0, 1)
	}

	w := e.cfg.Weights
	score := factors[domain.FactorHistoricalSuccess]*w.Historical +
		factors[domain.FactorAgentReliability]*w.Reliability +
		factors[domain.FactorComplexity]*w.Complexity +
		factors[domain.FactorTaskClarity]*w.Clarity +
		factors[domain.FactorResourceAvailability]*w.Resources +
		factors[domain.FactorContextQuality]*w.Context
	score = domain.Clamp(score, 0, 1)

	return domain.ConfidenceScore{
		Score:       score,
		Factors:     factors,
		Explanation: explain(score, factors, samples),
	}
}

// historicalSuccess: доля успехов среди похожих решений с известным результатом.
// Повторная запись той же ситуации не учитывается дважды.
func (e *Estimator) historicalSuccess(history []domain.DecisionLogEntry) (float64, int) {
	seen := make(map[string]struct{}, len(history))
	var total, ok int
	for _, h := range history {
		if h.Result == nil {
			continue
		}
		if _, dup := seen[h.SituationID]; dup {
			continue
		}
		seen[h.SituationID] = struct{}{}
		total++
		if h.Result.Success {
			ok++
		}
	}
	if total == 0 {
		return e.cfg.Neutral, 0
	}
	return float64(ok) / float64(total), total
}

func (e *Estimator) agentReliability(a domain.SituationAnalysis) float64 {
	if len(a.AvailableExecutors) == 0 {
		return 0
	}
	var sum float64
	for _, ref := range a.AvailableExecutors {
		if r, ok := a.ExecutorReliability[ref]; ok {
			sum += r
		} else {
			sum += e.cfg.Neutral
		}
	}
	return sum / float64(len(a.AvailableExecutors))
}

func taskClarity(t *domain.Task) float64 {
	var c float64
	if strings.TrimSpace(t.Description) != "" {
		c += 0.4
	}
	if len(t.SuccessCriteria) > 0 {
		c += 0.4
	}
	if strings.TrimSpace(t.Type) != "" {
		c += 0.2
	}
	return c
}

func resourceAvailability(a domain.SituationAnalysis) float64 {
	if a.EstimatedResources <= 0 || a.EstimatedResources <= a.AvailableResources {
		return 1
	}
	if a.AvailableResources <= 0 {
		return 0
	}
	return a.AvailableResources / a.EstimatedResources
}

func contextQuality(a domain.SituationAnalysis) float64 {
	if len(a.RequiredContext) == 0 {
		return 1
	}
	return float64(len(a.PresentContext)) / float64(len(a.RequiredContext))
}

var factorOrder = []string{
	domain.FactorHistoricalSuccess,
	domain.FactorAgentReliability,
	domain.FactorComplexity,
	domain.FactorTaskClarity,
	domain.FactorResourceAvailability,
	domain.FactorContextQuality,
}

func explain(score float64, factors map[string]float64, samples int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "confidence %.2f:", score)
	for _, name := range factorOrder {
		fmt.Fprintf(&b, " %s=%.2f", name, factors[name])
		if name == domain.FactorHistoricalSuccess {
			if samples == 0 {
				b.WriteString(" (neutral, no history)")
			} else {
				fmt.Fprintf(&b, " (%d samples)", samples)
			}
		}
	}
	return b.String()
}
