package main

import (
	"encoding/json"
	"fmt"
	"io"

	vc "github.com/linnemanlabs/leadwatch/internal/cfg"
	"github.com/linnemanlabs/leadwatch/internal/lead"
	"github.com/linnemanlabs/leadwatch/internal/pipeline"
)

// printReport writes the run's events to w in the requested format.
func printReport(w io.Writer, rep *pipeline.Report, format string) error {
	if format == vc.OutputJSON {
		events := rep.Events
		if events == nil {
			events = []lead.Event{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}

	if len(rep.Events) == 0 {
		_, err := fmt.Fprintln(w, "no trigger events found")
		return err
	}
	for i := range rep.Events {
		ev := &rep.Events[i]
		if _, err := fmt.Fprintf(w, "[%s] %s: %s\n    %s\n", ev.Category, ev.Company, ev.Article.Title, ev.Article.Link); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "\n%s\n", rep.Summary())
	return err
}
