// Package match implements the record selection gate: a list of rules read
// from a selection file, each matching on channel identity with shell-style
// wildcards and optionally bounding the record's time window. A record
// passes when any rule matches.
package match

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/seisflow/seedship/internal/hptime"
	"github.com/seisflow/seedship/internal/ports"
)

// Rule is one selection line: glob patterns for the identity fields plus an
// optional time range. An empty location is written "--" in selection files.
type Rule struct {
	Network  string
	Station  string
	Location string
	Channel  string
	Quality  string

	Start hptime.Time
	End   hptime.Time
	// Windowed reports whether Start/End bound the rule.
	Windowed bool
}

// Selection is an ordered rule list. The zero value matches nothing; a nil
// *Selection is treated as "no gate" by Match.
type Selection struct {
	rules []Rule
}

// Load reads a selection file. The name "-" reads from standard input.
func Load(name string) (*Selection, error) {
	if name == "-" {
		return Parse(os.Stdin)
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open selection file: %w", err)
	}
	defer f.Close()
	sel, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return sel, nil
}

// Parse reads selection lines: "network station location channel [quality]
// [start end]". '#' begins a comment, blank lines are skipped.
func Parse(r io.Reader) (*Selection, error) {
	sel := &Selection{}
	sc := bufio.NewScanner(r)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		rule, err := parseRule(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		sel.rules = append(sel.rules, rule)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return sel, nil
}

func parseRule(fields []string) (Rule, error) {
	if len(fields) < 4 {
		return Rule{}, fmt.Errorf("want at least network station location channel, got %d fields", len(fields))
	}

	rule := Rule{
		Network:  fields[0],
		Station:  fields[1],
		Location: fields[2],
		Channel:  fields[3],
		Quality:  "*",
	}
	rest := fields[4:]

	// An odd number of trailing fields means the first is a quality code;
	// the time window always takes two.
	if len(rest) == 1 || len(rest) == 3 {
		rule.Quality = rest[0]
		rest = rest[1:]
	}
	switch len(rest) {
	case 0:
	case 2:
		start, err := hptime.Parse(rest[0])
		if err != nil {
			return Rule{}, fmt.Errorf("start time: %w", err)
		}
		end, err := hptime.Parse(rest[1])
		if err != nil {
			return Rule{}, fmt.Errorf("end time: %w", err)
		}
		rule.Start, rule.End, rule.Windowed = start, end, true
	default:
		return Rule{}, fmt.Errorf("unexpected field count %d", len(fields))
	}
	return rule, nil
}

// Len returns the number of rules.
func (s *Selection) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Match reports whether the record passes the gate. A nil selection passes
// everything.
func (s *Selection) Match(rec *ports.Record) bool {
	if s == nil {
		return true
	}
	for _, rule := range s.rules {
		if rule.matches(rec) {
			return true
		}
	}
	return false
}

func (r *Rule) matches(rec *ports.Record) bool {
	loc := rec.Location
	if loc == "" {
		loc = "--"
	}
	if !glob(r.Network, rec.Network) ||
		!glob(r.Station, rec.Station) ||
		!glob(r.Location, loc) ||
		!glob(r.Channel, rec.Channel) ||
		!glob(r.Quality, string(rec.Quality)) {
		return false
	}
	if r.Windowed && (rec.End < r.Start || rec.Start > r.End) {
		return false
	}
	return true
}

// glob matches with '*', '?' and '[..]' wildcards; a malformed pattern
// matches nothing.
func glob(pattern, s string) bool {
	ok, err := path.Match(pattern, s)
	return err == nil && ok
}
