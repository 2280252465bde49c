package local

import (
	"regexp"
	"strings"
)

// Pattern compilation for filename token extraction
var (
	// Adjacent season/episode markers: S01E02, s1e2, S01E02E03, 1x02
	seasonEpisodeTokenRe = regexp.MustCompile(`(?i)^s(\d{1,2})e(\d{1,3})(?:e\d{1,3})*$`)
	crossEpisodeTokenRe  = regexp.MustCompile(`(?i)^(\d{1,2})x(\d{2,3})$`)

	// Split markers: "S02" "E05", "Season" "2" "Episode" "5"
	seasonTokenRe    = regexp.MustCompile(`(?i)^s(\d{1,2})$`)
	seasonWordRe     = regexp.MustCompile(`(?i)^(?:season|series)$`)
	episodeTokenRe   = regexp.MustCompile(`(?i)^e(?:p)?(\d{1,3})$`)
	episodeWordRe    = regexp.MustCompile(`(?i)^(?:episode|ep)$`)
	bareNumberRe     = regexp.MustCompile(`^\d{1,3}$`)
	yearTokenRe      = regexp.MustCompile(`^\d{4}$`)
	tokenSeparatorRe = regexp.MustCompile(`[\s._\-]+`)
	fileExtRe        = regexp.MustCompile(`\.[A-Za-z]{2,4}$`)

	// Bracketed segments are removed from the title but still scanned for tags
	bracketRe = regexp.MustCompile(`\[[^\]]*\]|\{[^}]*\}`)

	// Edition annotations are removed from the title and kept as a hint
	editionRe = regexp.MustCompile(`(?i)\b(anniversary[\s._-]+edition|director'?s[\s._-]+cut|extended[\s._-]+(?:edition|cut)|special[\s._-]+edition|remastered|unrated|re-?release)\b`)

	editionFoldRe   = regexp.MustCompile(`[\s._'\-]+`)
	emptyBracketsRe = regexp.MustCompile(`\s*[\(\[\{<]\s*[\)\]\}>]`)
)

// releaseTags is the closed vocabulary of resolution, source and codec tokens.
// Keys are lowercase; comparisons fold case.
var releaseTags = func() map[string]struct{} {
	words := []string{
		// resolution
		"480p", "576p", "720p", "1080p", "1080i", "2160p", "4k", "uhd", "8k",
		// source
		"bluray", "blu-ray", "bdrip", "brrip", "bdremux", "remux", "dvdrip", "dvdscr", "dvd", "dvd5", "dvd9",
		"webrip", "web-dl", "webdl", "web", "hdtv", "pdtv", "sdtv", "hdrip", "hdcam", "cam", "telesync",
		"amzn", "nf", "dsnp", "hmax", "atvp",
		// codec
		"x264", "x265", "h264", "h.264", "h265", "h.265", "hevc", "avc", "xvid", "divx", "vc-1", "mpeg2",
		"aac", "aac2.0", "ac3", "eac3", "dd", "dd5.1", "ddp5.1", "dts", "dts-hd", "truehd", "atmos", "flac", "mp3",
		"10bit", "8bit", "hdr", "hdr10", "dv", "sdr",
		// release flags
		"proper", "repack", "internal", "limited",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// editionLabels maps a folded edition match to its display form.
var editionLabels = map[string]string{
	"anniversaryedition": "Anniversary Edition",
	"directorscut":       "Director's Cut",
	"extendededition":    "Extended Edition",
	"extendedcut":        "Extended Edition",
	"specialedition":     "Special Edition",
	"remastered":         "Remastered",
	"unrated":            "Unrated",
	"rerelease":          "Re-release",
}

// weakTags are vocabulary words that also occur in real titles. They only
// count as tags once the title region has ended.
var weakTags = map[string]struct{}{
	"web": {}, "cam": {}, "dd": {}, "dv": {}, "nf": {}, "dvd": {}, "uhd": {}, "4k": {}, "8k": {},
	"hdr": {}, "sdr": {}, "atmos": {}, "avc": {}, "amzn": {}, "dsnp": {}, "hmax": {}, "atvp": {},
	"proper": {}, "internal": {}, "limited": {},
}

func isWeakTag(tok string) bool {
	_, ok := weakTags[strings.ToLower(tok)]
	return ok
}

// isReleaseTag reports whether tok is in the release-tag vocabulary.
func isReleaseTag(tok string) bool {
	_, ok := releaseTags[strings.ToLower(tok)]
	return ok
}

func editionLabel(match string) string {
	key := strings.ToLower(editionFoldRe.ReplaceAllString(match, ""))
	if label, ok := editionLabels[key]; ok {
		return label
	}
	return match
}
