package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/groupgpt/server/internal/assistant/model"
)

// NoArxivResults is returned when the query matches no papers.
const NoArxivResults = "No arXiv results found."

// ArxivSearch queries the arXiv Atom API for academic papers.
// https://info.arxiv.org/help/api/user-manual.html
type ArxivSearch struct {
	MaxResults int
	BaseURL    string
}

func NewArxivSearch(maxResults int) *ArxivSearch {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &ArxivSearch{MaxResults: maxResults}
}

func (s *ArxivSearch) endpoint() string {
	if s.BaseURL != "" {
		return s.BaseURL
	}
	return "http://export.arxiv.org/api/query"
}

type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
}

// Search returns the matching papers as one formatted text blob, or the
// NoArxivResults sentinel when nothing matches.
func (s *ArxivSearch) Search(ctx context.Context, query string) (string, error) {
	u := fmt.Sprintf("%s?search_query=all:%s&start=0&max_results=%d",
		s.endpoint(), url.QueryEscape(query), s.MaxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("arxiv query returned status %d", resp.StatusCode)
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return "", err
	}

	if len(feed.Entries) == 0 {
		return NoArxivResults, nil
	}

	var sections []string
	for _, e := range feed.Entries {
		var authors []string
		for _, a := range e.Authors {
			authors = append(authors, a.Name)
		}
		sections = append(sections, fmt.Sprintf(
			"Published: %s\nTitle: %s\nAuthors: %s\nLink: %s\nSummary: %s",
			e.Published,
			collapseWhitespace(e.Title),
			strings.Join(authors, ", "),
			strings.TrimSpace(e.ID),
			collapseWhitespace(e.Summary),
		))
	}
	return strings.Join(sections, "\n\n"), nil
}

// collapseWhitespace flattens the newline-wrapped text arXiv returns.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var _ model.AcademicSearchProvider = (*ArxivSearch)(nil)
