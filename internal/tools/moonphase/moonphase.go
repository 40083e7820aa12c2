// Package moonphase provides the get_moon_phase tool. The phase is computed
// locally from the mean synodic month; no network access is needed.
package moonphase

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/eggyy1224/space-live-project-sub000/internal/tools"
)

// Name is the registered tool name.
const Name = "get_moon_phase"

// SynodicMonth is the mean length of a lunation in days.
const SynodicMonth = 29.530588853

// referenceNewMoon is the new moon of 2000-01-06 18:14 UTC.
var referenceNewMoon = time.Date(2000, time.January, 6, 18, 14, 0, 0, time.UTC)

var phaseNames = [8]string{"新月", "眉月", "上弦月", "盈凸月", "滿月", "虧凸月", "下弦月", "殘月"}

// Phase describes the moon on a given instant.
type Phase struct {
	Name         string
	Age          float64 // days since the last new moon
	Illumination float64 // fraction of the disc lit, 0..1
}

// At computes the phase at t.
func At(t time.Time) Phase {
	days := t.Sub(referenceNewMoon).Hours() / 24
	age := math.Mod(days, SynodicMonth)
	if age < 0 {
		age += SynodicMonth
	}
	idx := int(math.Floor(age/SynodicMonth*8+0.5)) % 8
	return Phase{
		Name:         phaseNames[idx],
		Age:          age,
		Illumination: (1 - math.Cos(2*math.Pi*age/SynodicMonth)) / 2,
	}
}

// Option configures a [Calculator].
type Option func(*Calculator)

// WithClock injects the time source used when no date is given.
func WithClock(now func() time.Time) Option { return func(c *Calculator) { c.now = now } }

// Calculator answers moon-phase questions.
type Calculator struct {
	now func() time.Time
}

// New returns a calculator using the wall clock.
func New(opts ...Option) *Calculator {
	c := &Calculator{now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Tool returns the registry descriptor.
func (c *Calculator) Tool() tools.Tool {
	return tools.Tool{
		Name:        Name,
		Description: "計算指定日期（預設今天）的月相與月面照亮比例。",
		Params: []tools.Param{
			{Name: "date", Type: tools.TypeString, Description: "日期，格式 YYYY-MM-DD，預設今天"},
		},
		Func: func(_ context.Context, args map[string]string) (string, error) {
			return c.Describe(args["date"])
		},
	}
}

// Describe renders the phase for date (YYYY-MM-DD), or for now when date is
// empty. A dated query is evaluated at noon UTC.
func (c *Calculator) Describe(date string) (string, error) {
	t := c.now()
	label := "今天"
	if date = strings.TrimSpace(date); date != "" {
		d, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return "", fmt.Errorf("moonphase: parse date %q: %w", date, err)
		}
		t = d.Add(12 * time.Hour)
		label = date
	}
	p := At(t)
	return fmt.Sprintf("%s的月相是%s，月齡約 %.1f 天，月面約 %.0f%% 被照亮。", label, p.Name, p.Age, p.Illumination*100), nil
}
