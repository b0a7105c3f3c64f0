package live

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/demandcast/internal/config"
	"github.com/kiranshivaraju/demandcast/internal/signal"
	"github.com/kiranshivaraju/demandcast/pkg/models"
)

const newsPageSize = 10

// News fetches recent headlines from the NewsAPI /everything endpoint.
type News struct {
	http    httpClient
	baseURL string
	apiKey  string
}

// NewNews returns nil when no API key is configured, so the tier is skipped.
func NewNews(cfg config.NewsAPIConfig, timeout time.Duration) *News {
	if cfg.APIKey == "" {
		return nil
	}
	return &News{
		http:    newHTTPClient(timeout),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

func (n *News) Name() string { return "newsapi" }

func (n *News) Fetch(ctx context.Context, q signal.Query) (any, error) {
	query := fmt.Sprintf("%q", q.Region.Name)
	if q.Sector != "" {
		query += " AND " + string(q.Sector)
	}
	params := url.Values{
		"q":        {query},
		"language": {"en"},
		"sortBy":   {"publishedAt"},
		"pageSize": {strconv.Itoa(newsPageSize)},
	}
	u := fmt.Sprintf("%s/everything?%s", n.baseURL, params.Encode())

	var resp newsResponse
	if err := n.http.getJSON(ctx, u, http.Header{"X-Api-Key": {n.apiKey}}, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("%w: %s: %s", ErrSourceError, resp.Code, resp.Message)
	}

	out := &models.News{Headlines: make([]models.Headline, 0, len(resp.Articles))}
	for _, a := range resp.Articles {
		if strings.TrimSpace(a.Title) == "" {
			continue
		}
		out.Headlines = append(out.Headlines, models.Headline{
			Title:       a.Title,
			Source:      a.Source.Name,
			URL:         a.URL,
			PublishedAt: a.PublishedAt,
		})
	}
	return out, nil
}

type newsResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string    `json:"title"`
		URL         string    `json:"url"`
		PublishedAt time.Time `json:"publishedAt"`
	} `json:"articles"`
}

var _ signal.Provider = (*News)(nil)
