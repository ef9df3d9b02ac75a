package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smcscan/smcscan/internal/application/scan"
	"github.com/smcscan/smcscan/internal/application/scheduler"
)

// JobSpec is one recurring scan in scheduler.yaml. Intervals are
// duration strings ("30m", "4h").
type JobSpec struct {
	Name       string      `yaml:"name"`
	Interval   string      `yaml:"interval"`
	RunOnStart bool        `yaml:"run_on_start"`
	Params     scan.Params `yaml:"params"`
}

// SchedulerConfig is the scheduler.yaml job table.
type SchedulerConfig struct {
	Jobs []JobSpec `yaml:"jobs"`
}

// Build converts the specs into scheduler jobs, parsing intervals.
func (c SchedulerConfig) Build() ([]scheduler.Job, error) {
	jobs := make([]scheduler.Job, 0, len(c.Jobs))
	for i, spec := range c.Jobs {
		if spec.Name == "" {
			return nil, fmt.Errorf("scheduler config: job %d has no name", i)
		}
		d, err := time.ParseDuration(spec.Interval)
		if err != nil {
			return nil, fmt.Errorf("scheduler config: job %s interval %q: %w", spec.Name, spec.Interval, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("scheduler config: job %s interval must be positive", spec.Name)
		}
		jobs = append(jobs, scheduler.Job{
			Name:       spec.Name,
			Interval:   d,
			RunOnStart: spec.RunOnStart,
			Params:     spec.Params,
		})
	}
	return jobs, nil
}

// LoadScheduler reads scheduler.yaml. No file means no recurring jobs.
func LoadScheduler(path string) (SchedulerConfig, error) {
	var c SchedulerConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read scheduler config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse scheduler config: %w", err)
	}
	if _, err := c.Build(); err != nil {
		return c, err
	}
	return c, nil
}
