package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts 5-field crontab specs, an optional leading seconds field and
// descriptors such as "@hourly" or "@every 2h".
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

func (k SpecKind) String() string {
	if k == SpecInterval {
		return "interval"
	}
	return "cron"
}

// Spec is a parsed repeat-mode schedule.
//
// Accepted forms:
//   - cron: "0 */2 * * *", "30 0 */2 * * *", "@hourly", "@every 90m"
//   - interval duration: "90m", "2h30m"
//   - interval HH:MM: "02:30"
//
// "cron:" and "interval:"/"every:" prefixes force the kind.
type Spec struct {
	Kind     SpecKind
	Raw      string
	Every    time.Duration
	Schedule cron.Schedule
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

func Parse(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(raw, strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(raw, s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseInterval(raw, s[len("every:"):])
	}

	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return parseCron(raw, s)
	}
	if sp, err := parseInterval(raw, s); err == nil {
		return sp, nil
	}
	return Spec{}, fmt.Errorf("invalid schedule %q (use cron like '0 */2 * * *', HH:MM like '02:30', or duration like '90m')", raw)
}

func parseCron(raw, expr string) (Spec, error) {
	if expr == "" {
		return Spec{}, fmt.Errorf("cron expression required")
	}
	sched, err := Parser.Parse(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Spec{Kind: SpecCron, Raw: strings.TrimSpace(raw), Schedule: sched}, nil
}

func parseInterval(raw, v string) (Spec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Spec{}, fmt.Errorf("interval required")
	}
	var (
		d   time.Duration
		err error
	)
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		d, err = hhmm(m[1], m[2])
	} else {
		d, err = time.ParseDuration(v)
	}
	if err != nil {
		return Spec{}, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	if d < time.Second {
		return Spec{}, fmt.Errorf("interval must be >= 1s")
	}
	return Spec{Kind: SpecInterval, Raw: strings.TrimSpace(raw), Every: d, Schedule: cron.Every(d)}, nil
}

func hhmm(h, m string) (time.Duration, error) {
	hh, err := strconv.Atoi(h)
	if err != nil {
		return 0, err
	}
	mm, err := strconv.Atoi(m)
	if err != nil {
		return 0, err
	}
	if mm > 59 {
		return 0, fmt.Errorf("minutes out of range")
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}
