package ops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taskpilot/taskpilot/pkg/catalog"
)

// dateLayouts are the formats accepted in a dates file, tried in order per
// line.
var dateLayouts = []string{
	"2006-01-02",
	"02-Jan-2006",
	"Jan 02, 2006",
	"2006/01/02 15:04:05",
	"2006/01/02",
	time.RFC3339,
}

var weekdays = map[string]time.Weekday{
	"Sunday":    time.Sunday,
	"Monday":    time.Monday,
	"Tuesday":   time.Tuesday,
	"Wednesday": time.Wednesday,
	"Thursday":  time.Thursday,
	"Friday":    time.Friday,
	"Saturday":  time.Saturday,
}

type countDates struct{}

// NewCountDates counts how many dates in a file fall on a given weekday and
// writes the count as a plain integer artifact.
func NewCountDates() catalog.Operation { return countDates{} }

func (countDates) Spec() catalog.Spec {
	return catalog.Spec{
		ID:          "count_dates",
		Description: "Count how many dates in a file fall on a given weekday and write the count to an output file.",
		Caps:        catalog.CapSet{catalog.CapRead, catalog.CapWrite},
		Params: []catalog.Param{
			{Name: "input", Type: catalog.TypePath, Required: true, Description: "File with one date per line"},
			{Name: "weekday", Type: catalog.TypeString, Required: true, Description: "Weekday name to count",
				Enum: []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}},
			{Name: "output", Type: catalog.TypePath, Required: true, Description: "Where to write the integer count"},
		},
	}
}

func (countDates) Execute(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
	input, err := requireString(params, "input")
	if err != nil {
		return nil, err
	}
	output, err := requireString(params, "output")
	if err != nil {
		return nil, err
	}
	weekday, ok := weekdays[stringParam(params, "weekday")]
	if !ok {
		return nil, fmt.Errorf("unknown weekday %q", stringParam(params, "weekday"))
	}

	data, err := env.ReadFile(input)
	if err != nil {
		return nil, err
	}

	count := 0
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		t, err := parseDate(line)
		if err != nil {
			return nil, fmt.Errorf("unparseable date %q", line)
		}
		if t.Weekday() == weekday {
			count++
		}
	}

	content := fmt.Sprintf("%d", count)
	if err := env.Put(output, strings.NewReader(content)); err != nil {
		return nil, err
	}
	return &catalog.Result{Value: count, Artifact: output}, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no layout matches %q", s)
}
