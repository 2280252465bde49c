package planner

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/Digital-Shane/reel-tidy/internal/media"
)

// RelativeTarget renders the canonical library path for id, relative to the
// library root:
//
//	movies:   Title (Year)/Title (Year)<suffix>.ext
//	episodes: Title/Season NN/Title - SxxEyy<suffix>.ext
//
// Every name component is limited to maxLen runes before the extension; the
// title gives way so that year, episode code and suffix survive. Components
// then pass through finishComponent; both steps are one-to-one, so the title
// can be recovered from a series folder name.
func RelativeTarget(id media.ResolvedIdentity, ext, suffix string, maxLen int) (string, error) {
	title := Sanitize(strings.TrimSpace(id.Candidate.Title))
	if title == "" {
		return "", fmt.Errorf("identity %s has no usable title", id.Candidate.ExternalID)
	}
	ext = strings.ToLower(ext)

	switch id.Kind() {
	case media.KindMovie:
		yearTail := ""
		if id.Candidate.Year > 0 {
			yearTail = fmt.Sprintf(" (%d)", id.Candidate.Year)
		}
		dir := finishComponent(fit(title, yearTail, maxLen))
		file := finishComponent(fit(title, yearTail+suffix, maxLen)) + ext
		return filepath.Join(dir, file), nil
	case media.KindEpisode:
		dir := finishComponent(fit(title, "", maxLen))
		season := fmt.Sprintf("Season %02d", id.Season)
		tail := fmt.Sprintf(" - S%02dE%02d", id.Season, id.Episode) + suffix
		file := finishComponent(fit(title, tail, maxLen)) + ext
		return filepath.Join(dir, season, file), nil
	default:
		return "", fmt.Errorf("identity %s has no media kind", id.Candidate.ExternalID)
	}
}

func fit(title, tail string, maxLen int) string {
	if maxLen <= 0 {
		return title + tail
	}
	room := maxLen - utf8.RuneCountInString(tail)
	return truncateRunes(title, room) + tail
}
