// Package character holds the avatar's per-session Character State: three
// clamped gauges, a task counter, the day count and a task log.
//
// State is a plain value. The session owns one copy; the dialogue graph gets
// a snapshot, computes deltas, and hands back an updated copy via [State.Apply].
package character

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Gauge bounds.
const (
	GaugeMin = 0
	GaugeMax = 100
)

// Task outcome values for [TaskRecord.Status].
const (
	TaskSuccess     = "success"
	TaskFailed      = "failed"
	TaskInterrupted = "interrupted"
)

// Field names accepted by [State.Apply].
const (
	FieldHealth      = "health"
	FieldMood        = "mood"
	FieldEnergy      = "energy"
	FieldTaskSuccess = "task_success"
	FieldDays        = "days_in_space"
	FieldCurrentTask = "current_task"
)

// maxTaskHistory bounds the task log.
const maxTaskHistory = 20

// TaskRecord is one entry in the task log.
type TaskRecord struct {
	Task   string `json:"task"`
	Status string `json:"status"`
	Day    int    `json:"day"`
}

// State is the avatar's Character State.
type State struct {
	Health       int          `json:"health"`
	Mood         int          `json:"mood"`
	Energy       int          `json:"energy"`
	TaskSuccess  int          `json:"task_success"`
	DaysInSpace  int          `json:"days_in_space"`
	CurrentTask  string       `json:"current_task,omitempty"`
	TasksHistory []TaskRecord `json:"tasks_history"`
}

// Default returns the state every new session starts from.
func Default() State {
	return State{
		Health:      100,
		Mood:        70,
		Energy:      80,
		DaysInSpace: 1,
	}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	s.TasksHistory = slices.Clone(s.TasksHistory)
	return s
}

// Apply returns a copy of s with updates applied. Each value is either an
// absolute integer ("80"), a signed delta ("+5", "-10"), or for
// [FieldCurrentTask] a free string ("" clears it). Gauges are clamped to
// [GaugeMin, GaugeMax]; task_success never drops below 0 and days_in_space
// never below 1. Unknown fields and unparsable values are reported together
// while every valid update is still applied.
func (s State) Apply(updates map[string]string) (State, error) {
	out := s.Clone()
	var bad []string

	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		v := updates[k]
		if k == FieldCurrentTask {
			out.CurrentTask = v
			continue
		}
		target := out.field(k)
		if target == nil {
			bad = append(bad, k+": unknown field")
			continue
		}
		next, err := applyValue(*target, v)
		if err != nil {
			bad = append(bad, fmt.Sprintf("%s: %v", k, err))
			continue
		}
		*target = next
	}
	out.clamp()

	if len(bad) > 0 {
		return out, fmt.Errorf("character: apply: %s", strings.Join(bad, "; "))
	}
	return out, nil
}

func (s *State) field(name string) *int {
	switch name {
	case FieldHealth:
		return &s.Health
	case FieldMood:
		return &s.Mood
	case FieldEnergy:
		return &s.Energy
	case FieldTaskSuccess:
		return &s.TaskSuccess
	case FieldDays:
		return &s.DaysInSpace
	}
	return nil
}

func applyValue(cur int, v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return cur, fmt.Errorf("empty value")
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return cur, fmt.Errorf("invalid value %q", v)
	}
	if v[0] == '+' || v[0] == '-' {
		return cur + n, nil
	}
	return n, nil
}

func (s *State) clamp() {
	s.Health = clampGauge(s.Health)
	s.Mood = clampGauge(s.Mood)
	s.Energy = clampGauge(s.Energy)
	s.TaskSuccess = max(s.TaskSuccess, 0)
	s.DaysInSpace = max(s.DaysInSpace, 1)
}

func clampGauge(v int) int {
	return min(max(v, GaugeMin), GaugeMax)
}

// RecordTask appends a task outcome stamped with the current day, keeping at
// most the 20 most recent entries.
func (s State) RecordTask(task, status string) State {
	out := s.Clone()
	out.TasksHistory = append(out.TasksHistory, TaskRecord{Task: task, Status: status, Day: out.DaysInSpace})
	if over := len(out.TasksHistory) - maxTaskHistory; over > 0 {
		out.TasksHistory = slices.Delete(out.TasksHistory, 0, over)
	}
	return out
}

// AdvanceDays sets days_in_space from the session start: day 1 lasts the
// first 24 hours. The counter never moves backwards.
func (s State) AdvanceDays(startedAt, now time.Time) State {
	days := 1 + int(now.Sub(startedAt)/(24*time.Hour))
	if days > s.DaysInSpace {
		s.DaysInSpace = days
	}
	return s
}
