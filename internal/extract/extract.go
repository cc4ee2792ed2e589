// Package extract turns fetched article elements into normalized articles.
package extract

import (
	"fmt"
	"strings"

	"github.com/linnemanlabs/leadwatch/internal/fetch"
	"github.com/linnemanlabs/leadwatch/internal/lead"
	"github.com/linnemanlabs/leadwatch/internal/source"
)

// MaxArticles is how many elements per source are considered (the most recent).
const MaxArticles = 10

// Skip explains why one element produced no article.
type Skip struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Result is the outcome of extracting one source's elements.
type Result struct {
	Articles []lead.RawArticle
	Skipped  []Skip
}

// Extract builds articles from at most MaxArticles elements. Elements that
// cannot be parsed are recorded in Skipped; the rest of the batch continues.
func Extract(desc source.Descriptor, elements []fetch.Element) Result {
	if len(elements) > MaxArticles {
		elements = elements[:MaxArticles]
	}

	var res Result
	for i, el := range elements {
		a, reason := extractOne(desc, el)
		if reason != "" {
			res.Skipped = append(res.Skipped, Skip{Index: i, Reason: reason})
			continue
		}
		res.Articles = append(res.Articles, a)
	}
	return res
}

func extractOne(desc source.Descriptor, el fetch.Element) (a lead.RawArticle, reason string) {
	// node implementations may panic on malformed markup
	defer func() {
		if r := recover(); r != nil {
			a = lead.RawArticle{}
			reason = fmt.Sprintf("parse error: %v", r)
		}
	}()

	if el == nil {
		return lead.RawArticle{}, "nil element"
	}

	titleNode, ok := el.Query(desc.Selectors.Title)
	if !ok {
		return lead.RawArticle{}, "missing title"
	}

	linkSel := desc.Selectors.Link
	if linkSel == "" {
		linkSel = desc.Selectors.Title
	}
	linkNode := titleNode
	if linkSel != desc.Selectors.Title {
		if linkNode, ok = el.Query(linkSel); !ok {
			return lead.RawArticle{}, "missing link"
		}
	}

	href, ok := linkNode.Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return lead.RawArticle{}, "missing href"
	}

	var excerpt string
	if desc.Selectors.HasExcerpt() {
		if n, ok := el.Query(desc.Selectors.Excerpt); ok {
			excerpt = strings.TrimSpace(n.Text())
		}
	}

	return lead.RawArticle{
		Title:   strings.TrimSpace(titleNode.Text()),
		Link:    QualifyLink(desc.BaseURL, href),
		Excerpt: excerpt,
		Source:  desc.Name,
	}, ""
}

// QualifyLink prefixes relative links with the source base URL. Links that
// already start with "http" pass through unchanged.
func QualifyLink(baseURL, link string) string {
	if strings.HasPrefix(link, "http") {
		return link
	}
	switch {
	case strings.HasSuffix(baseURL, "/") && strings.HasPrefix(link, "/"):
		return baseURL + link[1:]
	case !strings.HasSuffix(baseURL, "/") && !strings.HasPrefix(link, "/"):
		return baseURL + "/" + link
	default:
		return baseURL + link
	}
}
