package character

import (
	"strings"
	"testing"
	"time"
)

func TestApply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		start   State
		updates map[string]string
		check   func(t *testing.T, s State)
		wantErr bool
	}{
		{
			name:    "absolute",
			start:   Default(),
			updates: map[string]string{FieldMood: "55"},
			check: func(t *testing.T, s State) {
				if s.Mood != 55 {
					t.Errorf("mood = %d, want 55", s.Mood)
				}
			},
		},
		{
			name:    "signed deltas",
			start:   Default(),
			updates: map[string]string{FieldEnergy: "-10", FieldHealth: "+5", FieldTaskSuccess: "+1"},
			check: func(t *testing.T, s State) {
				if s.Energy != 70 || s.Health != 100 || s.TaskSuccess != 1 {
					t.Errorf("got energy=%d health=%d tasks=%d", s.Energy, s.Health, s.TaskSuccess)
				}
			},
		},
		{
			name:    "clamps low",
			start:   State{Mood: 3, DaysInSpace: 1},
			updates: map[string]string{FieldMood: "-50", FieldDays: "-9", FieldTaskSuccess: "-4"},
			check: func(t *testing.T, s State) {
				if s.Mood != 0 || s.DaysInSpace != 1 || s.TaskSuccess != 0 {
					t.Errorf("got mood=%d days=%d tasks=%d", s.Mood, s.DaysInSpace, s.TaskSuccess)
				}
			},
		},
		{
			name:    "current task",
			start:   Default(),
			updates: map[string]string{FieldCurrentTask: "校準天線"},
			check: func(t *testing.T, s State) {
				if s.CurrentTask != "校準天線" {
					t.Errorf("current task = %q", s.CurrentTask)
				}
			},
		},
		{
			name:    "bad values keep the good ones",
			start:   Default(),
			updates: map[string]string{"oxygen": "+1", FieldMood: "lots", FieldEnergy: "+5"},
			check: func(t *testing.T, s State) {
				if s.Energy != 85 || s.Mood != 70 {
					t.Errorf("got energy=%d mood=%d", s.Energy, s.Mood)
				}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.start.Apply(tt.updates)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			tt.check(t, got)
		})
	}
}

func TestApply_GaugesStayInRange(t *testing.T) {
	t.Parallel()

	s := Default()
	deltas := []string{"+37", "-91", "+13", "+250", "-7", "-300", "+64"}
	for i := range 200 {
		d := deltas[i%len(deltas)]
		s, _ = s.Apply(map[string]string{FieldHealth: d, FieldMood: d, FieldEnergy: d})
		for name, v := range map[string]int{"health": s.Health, "mood": s.Mood, "energy": s.Energy} {
			if v < GaugeMin || v > GaugeMax {
				t.Fatalf("step %d: %s = %d out of range", i, name, v)
			}
		}
	}
}

func TestApply_DoesNotMutateReceiver(t *testing.T) {
	t.Parallel()
	s := Default().RecordTask("t", TaskSuccess)
	_, _ = s.Apply(map[string]string{FieldMood: "1"})
	next := s.RecordTask("u", TaskFailed)
	if s.Mood != 70 || len(s.TasksHistory) != 1 || len(next.TasksHistory) != 2 {
		t.Errorf("receiver mutated: %+v", s)
	}
}

func TestRecordTask_Bounded(t *testing.T) {
	t.Parallel()
	s := Default()
	for i := range 30 {
		s = s.RecordTask(strings.Repeat("x", i+1), TaskFailed)
	}
	if len(s.TasksHistory) != maxTaskHistory {
		t.Fatalf("history = %d, want %d", len(s.TasksHistory), maxTaskHistory)
	}
	if got := len(s.TasksHistory[0].Task); got != 11 {
		t.Errorf("oldest kept task length = %d, want 11", got)
	}
}

func TestAdvanceDays(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Default()
	if got := s.AdvanceDays(start, start.Add(23*time.Hour)).DaysInSpace; got != 1 {
		t.Errorf("day after 23h = %d, want 1", got)
	}
	if got := s.AdvanceDays(start, start.Add(49*time.Hour)).DaysInSpace; got != 3 {
		t.Errorf("day after 49h = %d, want 3", got)
	}
	s.DaysInSpace = 7
	if got := s.AdvanceDays(start, start).DaysInSpace; got != 7 {
		t.Errorf("counter moved backwards to %d", got)
	}
}

func TestBandAndDigest(t *testing.T) {
	t.Parallel()
	for mood, want := range map[int]MoodBand{95: MoodHigh, 81: MoodHigh, 80: MoodMid, 40: MoodMid, 39: MoodLow} {
		if got := (State{Mood: mood}).Band(); got != want {
			t.Errorf("Band(mood=%d) = %v, want %v", mood, got, want)
		}
	}
	d := Default().Digest()
	if !strings.Contains(d, "第 1 天") || !strings.Contains(d, "70/100") {
		t.Errorf("Digest() = %q", d)
	}
	if Default().TaskOrDefault() != "無特定任務" {
		t.Error("TaskOrDefault placeholder mismatch")
	}
}
