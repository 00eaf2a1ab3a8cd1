package pipeline

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/devgrid/devgrid/internal/domain"
)

// Definition is the YAML document a pipeline is created from.
type Definition struct {
	Name    string         `yaml:"name"`
	Trigger TriggerSection `yaml:"trigger"`
	Pool    string         `yaml:"pool,omitempty"`
	Steps   []Step         `yaml:"steps"`
}

// TriggerSection configures automatic runs in the YAML document.
type TriggerSection struct {
	Branches  []string `yaml:"branches,omitempty"`
	Paths     []string `yaml:"paths,omitempty"`
	Schedules []string `yaml:"schedules,omitempty"` // cron expressions
	PR        bool     `yaml:"pr,omitempty"`
}

// Step is one named command in a pipeline definition.
type Step struct {
	Name   string `yaml:"name"`
	Script string `yaml:"script"`
}

// ParseDefinition parses and validates a pipeline YAML document.
func ParseDefinition(raw string) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal([]byte(raw), &def); err != nil {
		return nil, fmt.Errorf("invalid pipeline yaml: %w: %v", domain.ErrInvalidArgument, err)
	}

	if def.Name == "" {
		return nil, fmt.Errorf("pipeline yaml must set a name: %w", domain.ErrInvalidArgument)
	}
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("pipeline yaml must define at least one step: %w", domain.ErrInvalidArgument)
	}
	for i, step := range def.Steps {
		if step.Name == "" {
			return nil, fmt.Errorf("step %d has no name: %w", i, domain.ErrInvalidArgument)
		}
		if step.Script == "" {
			return nil, fmt.Errorf("step %q has no script: %w", step.Name, domain.ErrInvalidArgument)
		}
	}

	return &def, nil
}

// Triggers converts the YAML trigger section to the stored trigger config.
// A branches list implies CI triggering.
func (d *Definition) Triggers() domain.BuildTrigger {
	return domain.BuildTrigger{
		BranchFilters:         d.Trigger.Branches,
		PathFilters:           d.Trigger.Paths,
		ContinuousIntegration: len(d.Trigger.Branches) > 0,
		PullRequestTrigger:    d.Trigger.PR,
		ScheduledTriggers:     d.Trigger.Schedules,
	}
}
