package model

import (
	"slices"

	"github.com/mononoSaya/auto-novel/internal/apperr"
)

type TocKind string

const (
	TocEpisode TocKind = "episode"
	TocSection TocKind = "section"
)

// TocToken is one table-of-contents entry. Kind selects the variant;
// EpisodeID is only meaningful for TocEpisode tokens.
type TocToken struct {
	Kind      TocKind `json:"kind"`
	Title     string  `json:"title"`
	EpisodeID string  `json:"episode_id,omitempty"`
}

func EpisodeToken(episodeID, title string) TocToken {
	return TocToken{Kind: TocEpisode, Title: title, EpisodeID: episodeID}
}

func SectionToken(title string) TocToken {
	return TocToken{Kind: TocSection, Title: title}
}

// BookMetadata describes a book as reported by a provider, or its
// translation. Values are never mutated in place once cached; use the
// With*/Apply* helpers to derive new values.
type BookMetadata struct {
	Title        string     `json:"title"`
	Introduction string     `json:"introduction,omitempty"`
	Toc          []TocToken `json:"toc"`
}

// EpisodeIDs lists episode ids in provider order.
func (m BookMetadata) EpisodeIDs() []string {
	ret := make([]string, 0, len(m.Toc))
	for _, token := range m.Toc {
		switch token.Kind {
		case TocEpisode:
			ret = append(ret, token.EpisodeID)
		case TocSection:
		}
	}
	return ret
}

func (m BookMetadata) EpisodeCount() int {
	n := 0
	for _, token := range m.Toc {
		if token.Kind == TocEpisode {
			n++
		}
	}
	return n
}

func (m BookMetadata) HasEpisode(episodeID string) bool {
	for _, token := range m.Toc {
		if token.Kind == TocEpisode && token.EpisodeID == episodeID {
			return true
		}
	}
	return false
}

// EpisodeRange returns the episode ids with index in [start, end), clamped
// to the table of contents.
func (m BookMetadata) EpisodeRange(start, end int) []string {
	ids := m.EpisodeIDs()
	start = max(start, 0)
	end = min(end, len(ids))
	if start >= end {
		return nil
	}
	return ids[start:end]
}

func (m BookMetadata) Clone() BookMetadata {
	return BookMetadata{
		Title:        m.Title,
		Introduction: m.Introduction,
		Toc:          slices.Clone(m.Toc),
	}
}

// ToQueryList flattens every translatable field in a fixed order:
// title, introduction, then the title of each toc token.
func (m BookMetadata) ToQueryList() []string {
	ret := make([]string, 0, 2+len(m.Toc))
	ret = append(ret, m.Title, m.Introduction)
	for _, token := range m.Toc {
		ret = append(ret, token.Title)
	}
	return ret
}

// ApplyTranslatedResult is the inverse of ToQueryList. It returns a new
// value and leaves m untouched.
func (m BookMetadata) ApplyTranslatedResult(results []string) (BookMetadata, error) {
	if want := 2 + len(m.Toc); len(results) != want {
		return BookMetadata{}, apperr.ArityError(want, len(results))
	}

	ret := m.Clone()
	ret.Title = results[0]
	ret.Introduction = results[1]
	for i := range ret.Toc {
		ret.Toc[i].Title = results[2+i]
	}
	return ret, nil
}

type Episode struct {
	Paragraphs []string `json:"paragraphs"`
}

func (e Episode) Equal(other Episode) bool {
	return slices.Equal(e.Paragraphs, other.Paragraphs)
}

// Translated builds the translated counterpart of e. Paragraph i of the
// result corresponds to paragraph i of e.
func (e Episode) Translated(results []string) (Episode, error) {
	if len(results) != len(e.Paragraphs) {
		return Episode{}, apperr.ArityError(len(e.Paragraphs), len(results))
	}
	return Episode{Paragraphs: slices.Clone(results)}, nil
}
