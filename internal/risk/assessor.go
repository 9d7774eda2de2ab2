package risk

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xela07ax/spaceai-autonomy/internal/domain"
)

// KeyBusinessImpact: явная оценка бизнес-влияния в контексте (low|medium|high|critical или число)
const (
	KeyBusinessImpact = "business_impact"
	KeyTouchesPII     = "touches_pii"
)

type Config struct {
	// Critical: граница High/Critical. Остальные границы берутся из снимка порогов.
	Critical         float64
	FinancialCeiling float64
	// AmountKey: поле контекста с денежной суммой (как risk_field в динамических лимитах)
	AmountKey string

	DataTags  []string
	BrandTags []string
	LegalTags []string
}

// DefaultConfig: теги по умолчанию.
func DefaultConfig() Config {
	return Config{
		Critical:         0.8,
		FinancialCeiling: 10000,
		AmountKey:        "amount",
		DataTags:         []string{"data_deletion", "data_migration"},
		BrandTags:        []string{"brand_change", "brand"},
		LegalTags:        []string{"legal_decision", "legal", "contract"},
	}
}

var impactLevels = map[string]float64{
	"low":      0.1,
	"medium":   0.4,
	"high":     0.7,
	"critical": 0.95,
}

var businessByComplexity = map[domain.Complexity]float64{
	domain.ComplexityLow:    0.1,
	domain.ComplexityMedium: 0.2,
	domain.ComplexityHigh:   0.5,
}

var technicalByComplexity = map[domain.Complexity]float64{
	domain.ComplexityLow:    0.1,
	domain.ComplexityMedium: 0.25,
	domain.ComplexityHigh:   0.45,
}

var mitigations = map[string]string{
	domain.RiskBusinessImpact: "stage the rollout and notify the business owner",
	domain.RiskTechnical:      "resolve pending dependencies or assign a more reliable executor",
	domain.RiskData:           "take a backup and run on a copy before touching live data",
	domain.RiskBrand:          "route the output through brand review",
	domain.RiskFinancial:      "split the spend or obtain budget sign-off",
	domain.RiskLegal:          "obtain legal review before acting",
}

// Assessor оценивает цену ошибки. Итог — максимум по факторам, не среднее.
type Assessor struct {
	cfg Config
}

func NewAssessor(cfg Config) *Assessor {
	return &Assessor{cfg: cfg}
}

func (a *Assessor) Assess(s *domain.Situation, an domain.SituationAnalysis, th domain.Thresholds) domain.RiskAssessment {
	factors := map[string]float64{
		domain.RiskBusinessImpact: a.businessImpact(s, an),
		domain.RiskTechnical:      technicalRisk(an),
		domain.RiskData:           a.dataRisk(s),
		domain.RiskBrand:          a.tagged(s, a.cfg.BrandTags),
		domain.RiskFinancial:      a.financialRisk(s),
		domain.RiskLegal:          a.tagged(s, a.cfg.LegalTags),
	}

	var score float64
	for name, v := range factors {
		v = domain.Clamp(v, 0, 1)
		factors[name] = v
		if v > score {
			score = v
		}
	}

	res := domain.RiskAssessment{
		Level:   a.level(score, th),
		Score:   score,
		Factors: factors,
	}

	for name, v := range factors {
		if score > 0 && v == score {
			res.Dominant = append(res.Dominant, name)
		}
		if v > th.RiskMedium {
			if res.Mitigations == nil {
				res.Mitigations = make(map[string]string)
			}
			res.Mitigations[name] = fmt.Sprintf("%s (%.2f): %s", name, v, mitigations[name])
		}
	}
	sort.Strings(res.Dominant)

	return res
}

// level: границы сравниваются через "<", значение на границе уходит в верхнюю категорию.
func (a *Assessor) level(score float64, th domain.Thresholds) domain.RiskLevel {
	switch {
	case score < th.RiskMedium:
		return domain.RiskLow
	case score < th.RiskHigh:
		return domain.RiskMedium
	case score < a.cfg.Critical:
		return domain.RiskHigh
	default:
		return domain.RiskCritical
	}
}

func (a *Assessor) businessImpact(s *domain.Situation, an domain.SituationAnalysis) float64 {
	if v, ok := s.Lookup(KeyBusinessImpact); ok {
		switch b := v.(type) {
		case string:
			if lvl, ok := impactLevels[strings.ToLower(b)]; ok {
				return lvl
			}
		default:
			if f, ok := s.Float(KeyBusinessImpact); ok {
				return f
			}
		}
	}
	return businessByComplexity[an.Complexity.Normalize()]
}

func technicalRisk(an domain.SituationAnalysis) float64 {
	if len(an.AvailableExecutors) == 0 {
		return 0.7
	}
	r := technicalByComplexity[an.Complexity.Normalize()] + 0.1*float64(an.PendingDependencies)
	if r > 0.9 {
		r = 0.9
	}
	return r
}

func (a *Assessor) dataRisk(s *domain.Situation) float64 {
	if r := a.tagged(s, a.cfg.DataTags); r > 0 {
		return 0.9
	}
	if s.Flag(KeyTouchesPII) {
		return 0.7
	}
	return 0
}

func (a *Assessor) financialRisk(s *domain.Situation) float64 {
	amount, ok := s.Float(a.cfg.AmountKey)
	if !ok || amount <= 0 || a.cfg.FinancialCeiling <= 0 {
		return 0
	}
	return amount / a.cfg.FinancialCeiling
}

// tagged: 0.95, если тип задачи или один из тегов попадает в набор.
func (a *Assessor) tagged(s *domain.Situation, set []string) float64 {
	for _, tag := range set {
		if strings.EqualFold(s.Task.Type, tag) || s.Task.HasTag(tag) {
			return 0.95
		}
	}
	return 0
}
