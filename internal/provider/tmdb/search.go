package tmdb

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/Digital-Shane/reel-tidy/internal/provider"
)

// Search queries TMDB for movies or series matching the request title.
func (p *Provider) Search(ctx context.Context, request provider.SearchRequest) ([]media.Candidate, error) {
	if p.client == nil {
		return nil, fmt.Errorf("provider not configured")
	}
	if request.Title == "" {
		return nil, nil
	}

	options := map[string]string{
		"language": p.getLanguage(request),
	}

	if err := p.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	switch request.MediaType {
	case provider.MediaTypeMovie:
		if request.Year > 0 {
			options["year"] = strconv.Itoa(request.Year)
		}
		return p.searchMovies(ctx, request, options)
	case provider.MediaTypeShow:
		return p.searchShows(ctx, request, options)
	default:
		return nil, fmt.Errorf("unsupported media type: %s", request.MediaType)
	}
}

func (p *Provider) searchMovies(ctx context.Context, request provider.SearchRequest, options map[string]string) ([]media.Candidate, error) {
	results, err := p.client.SearchMovie(request.Title, options)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, p.mapError(err)
	}
	if results == nil {
		return nil, nil
	}

	out := make([]media.Candidate, 0, len(results.Results))
	for _, m := range results.Results {
		out = append(out, media.Candidate{
			Title:      m.Title,
			Year:       provider.YearFromDate(m.ReleaseDate),
			ExternalID: fmt.Sprintf("%s:%d", providerName, m.ID),
			Kind:       media.KindMovie,
			Popularity: float64(m.Popularity),
			Source:     providerName,
		})
	}
	return out, nil
}

func (p *Provider) searchShows(ctx context.Context, request provider.SearchRequest, options map[string]string) ([]media.Candidate, error) {
	if request.Year > 0 {
		options["first_air_date_year"] = strconv.Itoa(request.Year)
	}
	results, err := p.client.SearchTv(request.Title, options)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, p.mapError(err)
	}
	if results == nil {
		return nil, nil
	}

	out := make([]media.Candidate, 0, len(results.Results))
	for _, s := range results.Results {
		out = append(out, media.Candidate{
			Title:      s.Name,
			Year:       provider.YearFromDate(s.FirstAirDate),
			ExternalID: fmt.Sprintf("%s:tv:%d", providerName, s.ID),
			Kind:       media.KindEpisode,
			Popularity: float64(s.Popularity),
			Source:     providerName,
		})
	}
	return out, nil
}

// getLanguage returns the language to use for the request
func (p *Provider) getLanguage(request provider.SearchRequest) string {
	if request.Language != "" {
		return request.Language
	}
	return p.language
}
