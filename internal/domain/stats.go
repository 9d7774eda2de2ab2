package domain

// DecisionStats: сводка по журналу решений для дашборда консоли.
type DecisionStats struct {
	Total             int64   `json:"total"`
	Autonomous        int64   `json:"autonomous"`
	Validated         int64   `json:"validated"`
	Escalated         int64   `json:"escalated"`
	Succeeded         int64   `json:"succeeded"`
	Failed            int64   `json:"failed"`
	TechnicalFailures int64   `json:"technical_failures"`
	SuccessRate       float64 `json:"success_rate"`
	AvgConfidence     float64 `json:"avg_confidence"`
}

// DecisionFilter: фильтры выборки журнала.
type DecisionFilter struct {
	SituationID string
	TaskType    string
	Action      Action
	Limit       int
}
