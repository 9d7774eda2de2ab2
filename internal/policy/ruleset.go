package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/xela07ax/spaceai-autonomy/internal/infra"
	"gopkg.in/yaml.v3"
)

// RuleSet: файл правил. Для каждого встроенного обязательного правила нужно ровно одно определение.
type RuleSet struct {
	Mandatory        []MandatoryDef `yaml:"mandatory" json:"mandatory,omitempty"`
	AlwaysEscalate   []Matcher      `yaml:"always_escalate" json:"always_escalate,omitempty"`
	AlwaysAutonomous []Matcher      `yaml:"always_autonomous" json:"always_autonomous,omitempty"`
}

// MandatoryDef: параметры встроенного обязательного правила.
type MandatoryDef struct {
	ID        string   `yaml:"id" json:"id,omitempty"`
	TaskTypes []string `yaml:"task_types" json:"task_types,omitempty"`
	Tags      []string `yaml:"tags" json:"tags,omitempty"`
	// AuthorizationKey: флаг контекста, разрешающий действие (no_autonomous_data_deletion)
	AuthorizationKey string `yaml:"authorization_key" json:"authorization_key,omitempty"`
	// AmountKey/CeilingKey — суммы в контексте (budget_ceiling)
	AmountKey  string `yaml:"amount_key" json:"amount_key,omitempty"`
	CeilingKey string `yaml:"ceiling_key" json:"ceiling_key,omitempty"`
}

// Matcher: настраиваемое правило always_escalate / always_autonomous.
type Matcher struct {
	Name      string   `yaml:"name" json:"name,omitempty"`
	TaskTypes []string `yaml:"task_types" json:"task_types,omitempty"`
	Tags      []string `yaml:"tags" json:"tags,omitempty"`
	// AppliesTo ограничивает правило типами задач (правила отдела). Пусто — для всех.
	AppliesTo []string `yaml:"applies_to" json:"applies_to,omitempty"`
}

// Matches: правило применимо к типу задачи и совпало по типу или тегу.
func (m Matcher) Matches(taskType string, hasTag func(string) bool) bool {
	if len(m.AppliesTo) > 0 && !containsFold(m.AppliesTo, taskType) {
		return false
	}
	if containsFold(m.TaskTypes, taskType) {
		return true
	}
	for _, tag := range m.Tags {
		if hasTag(tag) {
			return true
		}
	}
	return false
}

// RuleSource: откуда берется набор правил.
type RuleSource interface {
	Load(ctx context.Context) (*RuleSet, error)
}

// FileSource читает правила из YAML файла при каждом Load (горячая перезагрузка).
type FileSource struct {
	Path string
}

func (f FileSource) Load(_ context.Context) (*RuleSet, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", f.Path, err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet разбирает и валидирует набор правил.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, &infra.ConfigError{Field: "rules", Message: err.Error()}
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

func (rs *RuleSet) Validate() error {
	var errs []error
	seen := make(map[string]int)
	for _, d := range rs.Mandatory {
		if !slices.Contains(BuiltinRuleIDs, d.ID) {
			errs = append(errs, &infra.ConfigError{Field: "rules.mandatory", Message: fmt.Sprintf("unknown mandatory rule %q", d.ID)})
			continue
		}
		seen[d.ID]++
		if err := d.validate(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, id := range BuiltinRuleIDs {
		switch seen[id] {
		case 0:
			errs = append(errs, &infra.ConfigError{Field: "rules.mandatory", Message: fmt.Sprintf("missing definition for mandatory rule %q", id)})
		case 1:
		default:
			errs = append(errs, &infra.ConfigError{Field: "rules.mandatory", Message: fmt.Sprintf("duplicate definition for mandatory rule %q", id)})
		}
	}

	for field, list := range map[string][]Matcher{
		"rules.always_escalate":   rs.AlwaysEscalate,
		"rules.always_autonomous": rs.AlwaysAutonomous,
	} {
		for i, m := range list {
			if strings.TrimSpace(m.Name) == "" {
				errs = append(errs, &infra.ConfigError{Field: fmt.Sprintf("%s[%d]", field, i), Message: "name is required"})
			}
			if len(m.TaskTypes) == 0 && len(m.Tags) == 0 {
				errs = append(errs, &infra.ConfigError{Field: fmt.Sprintf("%s[%d]", field, i), Message: "rule matches nothing: set task_types or tags"})
			}
		}
	}
	return errors.Join(errs...)
}

func (d MandatoryDef) validate() error {
	field := "rules.mandatory." + d.ID
	switch d.ID {
	case RuleNoUnvalidatedFinalization, RuleNoAutonomousDataDeletion:
		if len(d.TaskTypes) == 0 && len(d.Tags) == 0 {
			return &infra.ConfigError{Field: field, Message: "task_types or tags are required"}
		}
	case RuleBudgetCeiling:
		if d.AmountKey == "" || d.CeilingKey == "" {
			return &infra.ConfigError{Field: field, Message: "amount_key and ceiling_key are required"}
		}
	}
	return nil
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
