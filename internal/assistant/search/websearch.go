package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/groupgpt/server/internal/assistant/model"
)

// Provider identifies a supported web search backend.
type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

// NewWebSearchProvider returns the client for the configured provider.
func NewWebSearchProvider(provider Provider, apiKey string) (model.WebSearchProvider, error) {
	switch provider {
	case SerperProvider:
		return &SerperSearch{APIKey: apiKey}, nil
	case BraveProvider:
		return &BraveSearch{APIKey: apiKey}, nil
	default:
		return nil, fmt.Errorf("unsupported web search provider: %q", provider)
	}
}

// SerperSearch queries the Serper Google Search API.
// https://serper.dev/ docs
type SerperSearch struct {
	APIKey  string
	BaseURL string // test override; defaults to the public endpoint
}

func (s *SerperSearch) endpoint() string {
	if s.BaseURL != "" {
		return s.BaseURL
	}
	return "https://google.serper.dev/search"
}

func (s *SerperSearch) Search(ctx context.Context, query string, k int) ([]model.WebResult, error) {
	payload, err := json.Marshal(map[string]any{"q": query, "num": k})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(), strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serper search returned status %d", resp.StatusCode)
	}

	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var out []model.WebResult
	for i, r := range raw.Organic {
		if i >= k {
			break
		}
		out = append(out, model.WebResult{Title: r.Title, Link: r.Link, Snippet: r.Snippet})
	}
	return out, nil
}

// BraveSearch queries the Brave Web Search API.
// https://api.search.brave.com/app/documentation/web-search
type BraveSearch struct {
	APIKey  string
	BaseURL string
}

func (s *BraveSearch) endpoint() string {
	if s.BaseURL != "" {
		return s.BaseURL
	}
	return "https://api.search.brave.com/res/v1/web/search"
}

func (s *BraveSearch) Search(ctx context.Context, query string, k int) ([]model.WebResult, error) {
	u := fmt.Sprintf("%s?q=%s&count=%d", s.endpoint(), url.QueryEscape(query), k)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.APIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave search returned status %d", resp.StatusCode)
	}

	var raw struct {
		Web struct {
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var out []model.WebResult
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		out = append(out, model.WebResult{Title: r.Title, Link: r.URL, Snippet: r.Snippet})
	}
	return out, nil
}
