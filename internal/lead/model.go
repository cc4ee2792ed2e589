package lead

import "time"

// Category is a trigger-event type.
type Category string

const (
	CategoryFunding       Category = "funding"
	CategoryNewHires      Category = "new_hires"
	CategoryExpansion     Category = "expansion"
	CategoryProductLaunch Category = "product_launch"
	CategoryPartnership   Category = "partnership"
)

// Categories returns every known category in declaration order.
func Categories() []Category {
	return []Category{
		CategoryFunding,
		CategoryNewHires,
		CategoryExpansion,
		CategoryProductLaunch,
		CategoryPartnership,
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// Resolution records which resolver path produced a company name.
type Resolution string

const (
	// ResolvedByCompletion means the completion service answered.
	ResolvedByCompletion Resolution = "completion"

	// ResolvedFallbackUnconfigured means no completion service was configured.
	ResolvedFallbackUnconfigured Resolution = "fallback_unconfigured"

	// ResolvedFallbackError means the completion call failed.
	ResolvedFallbackError Resolution = "fallback_error"
)

// RawArticle is one article pulled from a source listing page.
type RawArticle struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Excerpt string `json:"excerpt"`
	Source  string `json:"source"`
}

// Text is the classifier input for the article.
func (a RawArticle) Text() string {
	return a.Title + " " + a.Excerpt
}

// Event is a classified article with its resolved company. Events are
// built once and never modified.
type Event struct {
	Article    RawArticle `json:"article"`
	Company    string     `json:"company_name"`
	Category   Category   `json:"event_type"`
	Source     string     `json:"source"`
	Resolution Resolution `json:"resolution"`
}

// Record is the persisted projection of an Event. SourceURL is unique
// across a store and acts as the dedup key.
type Record struct {
	CompanyName      string    `json:"company_name"`
	EventType        Category  `json:"event_type"`
	EventDescription string    `json:"event_description"`
	SourceURL        string    `json:"source_url"`
	DetectedAt       time.Time `json:"detected_at"`
	CompanyURL       *string   `json:"company_url"`
}

// NewRecord projects ev into its persisted form, stamped at now (UTC).
func NewRecord(ev *Event, now time.Time) *Record {
	return &Record{
		CompanyName:      ev.Company,
		EventType:        ev.Category,
		EventDescription: ev.Article.Title + "\n\n" + ev.Article.Excerpt,
		SourceURL:        ev.Article.Link,
		DetectedAt:       now.UTC(),
		CompanyURL:       CompanyURL(ev.Article.Link),
	}
}

// CompanyURL would resolve the company's website from the article. Website
// resolution is not implemented; it always returns nil.
func CompanyURL(_ string) *string {
	return nil
}
