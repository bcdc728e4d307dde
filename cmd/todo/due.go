package main

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var dueParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDue accepts YYYY-MM-DD or natural language ("tomorrow", "next
// friday", "in 3 days"), relative to now.
func parseDue(text string, now time.Time) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", text, now.Location()); err == nil {
		return t, nil
	}
	r, err := dueParser.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse due date %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand due date %q", text)
	}
	return r.Time, nil
}
