// Package fetch defines the page-fetch capability consumed by the pipeline.
// A Browser is opened once per run; its Session turns a source listing page
// into DOM-queryable article elements.
package fetch

import (
	"context"
	"errors"

	"github.com/linnemanlabs/leadwatch/internal/source"
)

// ErrNoArticles is returned when the article container selector matched
// nothing within the wait timeout.
var ErrNoArticles = errors.New("article selector matched no elements")

// Browser opens fetch sessions.
type Browser interface {
	Open(ctx context.Context) (Session, error)
}

// Session fetches source listing pages. It is owned by a single run and
// must be closed exactly once.
type Session interface {
	// Fetch returns at most limit article container elements, in page order.
	Fetch(ctx context.Context, src source.Descriptor, limit int) ([]Element, error)
	Close() error
}

// Element is one matched article container.
type Element interface {
	// Query returns the first descendant matching selector.
	Query(selector string) (Node, bool)
}

// Node is a matched descendant of an Element.
type Node interface {
	Text() string
	Attr(name string) (string, bool)
}
