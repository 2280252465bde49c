package local

import (
	"strconv"
	"strings"
	"time"

	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/moistari/rls"
)

// MinYear is the earliest year-shaped token accepted as a release year.
const MinYear = 1888

// Extractor turns filenames into media.Hints. The zero value is not usable;
// construct with NewExtractor.
type Extractor struct {
	maxYear int
}

// NewExtractor returns an Extractor accepting years up to next year.
func NewExtractor() *Extractor {
	return &Extractor{maxYear: time.Now().Year() + 1}
}

// NewExtractorWithMaxYear pins the upper year bound. Used for reproducible runs.
func NewExtractorWithMaxYear(maxYear int) *Extractor {
	return &Extractor{maxYear: maxYear}
}

// tagSeparators are tried, in order, when joining two tokens into one tag.
var tagSeparators = []string{"-", "."}

// seMarker is the position and value of a season/episode marker.
type seMarker struct {
	start   int
	end     int
	season  int
	episode int
}

// Extract parses a single filename into hints. It never fails; a name with
// nothing recognizable yields hints of kind unknown.
func (x *Extractor) Extract(filename string) media.Hints {
	hints := media.Hints{Kind: media.KindUnknown}
	base := trimExtension(filename)

	if rel := rls.ParseString(filename); rel.Group != "" {
		hints.Group = rel.Group
	}

	base, bracketed := stripBrackets(base)
	base, hints.Edition = stripEdition(base)
	tokens := tokenize(base)

	tagged := make([]bool, len(tokens))
	tagText := make([]string, len(tokens))
	markTags(tokens, tagged, tagText, 0, false)

	se, hasSE := findSeasonEpisode(tokens, tagged)
	yearIdx := x.findYear(tokens, tagged)

	end := len(tokens)
	switch {
	case hasSE && yearIdx >= 0:
		end = min(se.start, yearIdx)
	case hasSE:
		end = se.start
	case yearIdx >= 0:
		end = yearIdx
	default:
		for i, t := range tagged {
			if t {
				end = i
				break
			}
		}
	}
	markTags(tokens, tagged, tagText, end, true)

	var title []string
	for i := 0; i < end; i++ {
		if !tagged[i] {
			title = append(title, tokens[i])
		}
	}
	hints.Title = CleanName(strings.Join(title, " "))

	for _, t := range tagText {
		if t != "" {
			hints.Tags = appendUnique(hints.Tags, t)
		}
	}
	for _, seg := range bracketed {
		segTokens := tokenize(seg)
		segTagged := make([]bool, len(segTokens))
		segText := make([]string, len(segTokens))
		markTags(segTokens, segTagged, segText, 0, true)
		for _, t := range segText {
			if t != "" {
				hints.Tags = appendUnique(hints.Tags, t)
			}
		}
	}

	if yearIdx >= 0 {
		hints.Year, _ = strconv.Atoi(tokens[yearIdx])
	}
	switch {
	case hasSE:
		hints.Kind = media.KindEpisode
		hints.Season = se.season
		hints.Episode = se.episode
		hints.HasEpisode = true
	case yearIdx >= 0:
		hints.Kind = media.KindMovie
	}
	return hints
}

// trimExtension drops a known container extension, or any other short
// alphabetic one that is not itself a release tag (.srt, .nfo). Names like
// "Show.S02E05.720p" keep their last token.
func trimExtension(filename string) string {
	if ext := media.ContainerExtension(filename); ext != "" {
		return strings.TrimSuffix(filename, ext)
	}
	loc := fileExtRe.FindStringIndex(filename)
	if loc == nil || loc[0] == 0 || isReleaseTag(filename[loc[0]+1:]) {
		return filename
	}
	return filename[:loc[0]]
}

// markTags flags release-tag tokens at or after from. Weak tags are only
// considered when weak is set.
func markTags(tokens []string, tagged []bool, text []string, from int, weak bool) {
	for i := from; i < len(tokens); i++ {
		if tagged[i] {
			continue
		}
		if i+1 < len(tokens) && !tagged[i+1] {
			joined := ""
			for _, sep := range tagSeparators {
				cand := tokens[i] + sep + tokens[i+1]
				if isReleaseTag(cand) && (weak || !isWeakTag(cand)) {
					joined = cand
					break
				}
			}
			if joined != "" {
				tagged[i], tagged[i+1] = true, true
				text[i] = joined
				i++
				continue
			}
		}
		if isReleaseTag(tokens[i]) && (weak || !isWeakTag(tokens[i])) {
			tagged[i] = true
			text[i] = tokens[i]
		}
	}
}

// findYear scans right to left for the first year-shaped token in range.
func (x *Extractor) findYear(tokens []string, tagged []bool) int {
	for i := len(tokens) - 1; i >= 0; i-- {
		if tagged[i] || !yearTokenRe.MatchString(tokens[i]) {
			continue
		}
		y, err := strconv.Atoi(tokens[i])
		if err == nil && y >= MinYear && y <= x.maxYear {
			return i
		}
	}
	return -1
}

// findSeasonEpisode returns the leftmost season/episode marker. Both adjacent
// forms (S02E05, 2x05) and split forms following a season indicator
// (S02 E05, Season 2 Episode 5, Season 2 05) are recognized.
func findSeasonEpisode(tokens []string, tagged []bool) (seMarker, bool) {
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	next := func(i int) (string, bool) {
		if i < len(tokens) && !tagged[i] {
			return tokens[i], true
		}
		return "", false
	}

	for i, tok := range tokens {
		if tagged[i] {
			continue
		}
		if m := seasonEpisodeTokenRe.FindStringSubmatch(tok); m != nil {
			return seMarker{start: i, end: i, season: atoi(m[1]), episode: atoi(m[2])}, true
		}
		if m := crossEpisodeTokenRe.FindStringSubmatch(tok); m != nil {
			return seMarker{start: i, end: i, season: atoi(m[1]), episode: atoi(m[2])}, true
		}

		season := -1
		pos := i + 1
		if m := seasonTokenRe.FindStringSubmatch(tok); m != nil {
			season = atoi(m[1])
		} else if seasonWordRe.MatchString(tok) {
			if n, ok := next(i + 1); ok && bareNumberRe.MatchString(n) {
				season = atoi(n)
				pos = i + 2
			}
		}
		if season < 0 {
			continue
		}

		n, ok := next(pos)
		if !ok {
			continue
		}
		if m := episodeTokenRe.FindStringSubmatch(n); m != nil {
			return seMarker{start: i, end: pos, season: season, episode: atoi(m[1])}, true
		}
		if episodeWordRe.MatchString(n) {
			if num, ok := next(pos + 1); ok && bareNumberRe.MatchString(num) {
				return seMarker{start: i, end: pos + 1, season: season, episode: atoi(num)}, true
			}
			continue
		}
		if seasonWordRe.MatchString(tok) && bareNumberRe.MatchString(n) {
			return seMarker{start: i, end: pos, season: season, episode: atoi(n)}, true
		}
	}
	return seMarker{}, false
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if strings.EqualFold(existing, v) {
			return list
		}
	}
	return append(list, v)
}
