package pipeline

import "github.com/linnemanlabs/leadwatch/internal/lead"

// Hooks receives pipeline progress. Any field may be nil.
type Hooks struct {
	// OnSource fires once per source after extraction, or with err set when
	// the fetch failed.
	OnSource func(source string, articles, matched int, err error)

	// OnArticle fires for every extracted article. matched is false when no
	// trigger keyword was found.
	OnArticle func(source string, category lead.Category, matched bool)

	// OnResolve fires for every resolved company name.
	OnResolve func(path lead.Resolution)

	// OnPersist fires per record with PersistInserted, PersistDuplicate or
	// PersistFailed.
	OnPersist func(outcome string)

	// OnRun fires once the report is complete.
	OnRun func(r *Report)
}

func (h *Hooks) source(name string, articles, matched int, err error) {
	if h.OnSource != nil {
		h.OnSource(name, articles, matched, err)
	}
}

func (h *Hooks) article(source string, c lead.Category, matched bool) {
	if h.OnArticle != nil {
		h.OnArticle(source, c, matched)
	}
}

func (h *Hooks) resolve(p lead.Resolution) {
	if h.OnResolve != nil {
		h.OnResolve(p)
	}
}

func (h *Hooks) persist(outcome string) {
	if h.OnPersist != nil {
		h.OnPersist(outcome)
	}
}

func (h *Hooks) run(r *Report) {
	if h.OnRun != nil {
		h.OnRun(r)
	}
}
