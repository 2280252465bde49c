package media

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// Kind is the coarse classification of a media file.
type Kind string

const (
	KindMovie   Kind = "movie"
	KindEpisode Kind = "episode"
	KindUnknown Kind = "unknown"
)

// Provenance records how a ResolvedIdentity was decided.
type Provenance string

const (
	ProvenanceDirect         Provenance = "direct-match"
	ProvenanceDisambiguated  Provenance = "disambiguated"
	ProvenanceManualOverride Provenance = "manual-override"
)

// RawEntry is a file observed during a scan. It is an immutable snapshot;
// a changed file is represented by a new RawEntry.
type RawEntry struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Stale reports whether the entry no longer matches the observed size and
// modification time.
func (e RawEntry) Stale(size int64, modTime time.Time) bool {
	return e.Size != size || !e.ModTime.Equal(modTime)
}

// Hints are structured guesses derived from a filename before any lookup.
type Hints struct {
	Title   string
	Year    int
	Season  int
	Episode int
	// HasEpisode distinguishes S00E00 specials from no marker at all.
	HasEpisode bool
	Tags       []string
	Edition    string
	Group      string
	Kind       Kind
}

// Equal reports whether two hint values are identical.
func (h Hints) Equal(o Hints) bool {
	return h.Title == o.Title && h.Year == o.Year && h.Season == o.Season &&
		h.Episode == o.Episode && h.HasEpisode == o.HasEpisode &&
		h.Edition == o.Edition && h.Group == o.Group && h.Kind == o.Kind &&
		slices.Equal(h.Tags, o.Tags)
}

// Candidate is one external match for a set of hints.
type Candidate struct {
	Title      string
	Year       int
	ExternalID string
	Kind       Kind
	Confidence float64
	Popularity float64
	Source     string
}

// Label renders a candidate for logs and reports.
func (c Candidate) Label() string {
	if c.Year > 0 {
		return fmt.Sprintf("%s (%d) [%s]", c.Title, c.Year, c.ExternalID)
	}
	return fmt.Sprintf("%s [%s]", c.Title, c.ExternalID)
}

// SortCandidates orders candidates by descending confidence, then by
// descending popularity, then by ascending external identifier.
func SortCandidates(cands []Candidate) {
	slices.SortStableFunc(cands, func(a, b Candidate) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Popularity, a.Popularity); c != 0 {
			return c
		}
		return cmp.Compare(a.ExternalID, b.ExternalID)
	})
}

// ResolvedIdentity is the accepted candidate for one RawEntry. Season and
// Episode are copied from the entry's hints for episodes.
type ResolvedIdentity struct {
	Candidate  Candidate
	Season     int
	Episode    int
	Provenance Provenance
	ResolvedAt time.Time
}

// Kind returns the media kind of the accepted candidate.
func (r ResolvedIdentity) Kind() Kind {
	return r.Candidate.Kind
}
