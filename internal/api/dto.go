package api

import (
	"time"

	"github.com/JakeFAU/risk-screener/internal/screening"
)

// screenRequest is the body of POST /v1/screenings. A missing sources field
// falls back to the server's default sources; an explicit empty list is rejected.
type screenRequest struct {
	EntityName string   `json:"entityName"`
	Sources    []string `json:"sources"`
}

type hitResponse struct {
	EntityName string            `json:"entityName"`
	Source     string            `json:"source"`
	Attributes map[string]string `json:"attributes"`
	MatchScore *float64          `json:"matchScore,omitempty"`
	ScrapedAt  time.Time         `json:"scrapedAt"`
}

type screeningResponse struct {
	ID                   string        `json:"id"`
	Sources              []string      `json:"sources"`
	SearchedEntity       string        `json:"searchedEntity"`
	TotalHits            int           `json:"totalHits"`
	Hits                 []hitResponse `json:"hits"`
	SearchedAt           time.Time     `json:"searchedAt"`
	ExecutionTimeSeconds float64       `json:"executionTimeSeconds"`
	Errors               []string      `json:"errors,omitempty"`
}

func toScreeningResponse(report screening.Report) screeningResponse {
	res := report.Result
	hits := make([]hitResponse, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, hitResponse{
			EntityName: h.EntityName,
			Source:     h.Source.String(),
			Attributes: h.Attributes,
			MatchScore: h.MatchScore,
			ScrapedAt:  h.ScrapedAt,
		})
	}
	sources := make([]string, 0, len(report.Sources))
	for _, s := range report.Sources {
		sources = append(sources, s.String())
	}
	return screeningResponse{
		ID:                   report.ID,
		Sources:              sources,
		SearchedEntity:       res.SearchedEntity.String(),
		TotalHits:            res.TotalHits,
		Hits:                 hits,
		SearchedAt:           res.SearchedAt,
		ExecutionTimeSeconds: res.ExecutionTime.Seconds(),
		Errors:               res.Errors,
	}
}

type rateLimitResponse struct {
	ClientID  string `json:"clientId"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

type readinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Status    int       `json:"status"`
	Message   string    `json:"message"`
	Errors    []any     `json:"errors"`
	Timestamp time.Time `json:"timestamp"`
}

type fieldError struct {
	PropertyName string `json:"propertyName"`
	ErrorMessage string `json:"errorMessage"`
}

type retryAfterDetail struct {
	RetryAfter int `json:"retryAfter"`
}
