package metadata

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"

	"specforge/internal/specdoc"
)

// Schedule is the trigger of a computed-field rule.
type Schedule string

const (
	ScheduleDaily     Schedule = "DAILY"
	ScheduleHourly    Schedule = "HOURLY"
	ScheduleImmediate Schedule = "IMMEDIATE"
	ScheduleOnDemand  Schedule = "ON_DEMAND"
)

func scheduleOf(k specdoc.AnnotationKind) (Schedule, bool) {
	switch k {
	case specdoc.AnnDaily:
		return ScheduleDaily, true
	case specdoc.AnnHourly:
		return ScheduleHourly, true
	case specdoc.AnnImmediate:
		return ScheduleImmediate, true
	case specdoc.AnnOnDemand:
		return ScheduleOnDemand, true
	}
	return "", false
}

// CronSpec returns the cron descriptor for periodic schedules. Immediate
// rules are event driven and on-demand rules run manually; both return false.
func (s Schedule) CronSpec() (string, bool) {
	switch s {
	case ScheduleDaily:
		return "@daily", true
	case ScheduleHourly:
		return "@hourly", true
	}
	return "", false
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks that a periodic schedule yields a parseable cron spec.
func (s Schedule) Validate() error {
	spec, ok := s.CronSpec()
	if !ok {
		return nil
	}
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %s: %w", s, err)
	}
	return nil
}

// ComputedRule is attached verbatim to its column; the engine never
// evaluates Rule.
type ComputedRule struct {
	Entity       string
	Column       string
	Schedule     Schedule
	Rule         string
	Dependencies []string
}

var ruleIdentRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)?`)

// ruleDependencies collects identifiers of the rule text that name a column
// of the owning entity or an Entity.column of the schema.
func ruleDependencies(rule string, owner *Entity, entities map[string]*Entity) []string {
	var deps []string
	seen := make(map[string]bool)
	add := func(d string) {
		if !seen[d] {
			seen[d] = true
			deps = append(deps, d)
		}
	}
	for _, tok := range ruleIdentRe.FindAllString(rule, -1) {
		if ent, col, ok := strings.Cut(tok, "."); ok {
			if target, found := entities[strings.ToLower(ent)]; found {
				if c, hit := target.resolveRef(col); hit {
					add(target.Name + "." + c)
				}
			}
			continue
		}
		if c, hit := owner.resolveRef(tok); hit {
			add(c)
		}
	}
	return deps
}

// resolveRef maps an attribute, conceptual FK or storage name to a column.
func (e *Entity) resolveRef(name string) (string, bool) {
	if fk, ok := e.ForeignKey(name); ok {
		return fk.Column, true
	}
	if c, ok := e.Column(name); ok && !c.System {
		return c.Name, true
	}
	return "", false
}
