package cache

import (
	"fmt"
	"net/url"
	"strings"
)

type unitKind int

const (
	unitMetadata unitKind = iota
	unitEpisode
)

// Unit is the addressable granularity inside one book and language:
// either the whole-book metadata or a single episode.
type Unit struct {
	kind      unitKind
	episodeID string
}

func MetadataUnit() Unit {
	return Unit{kind: unitMetadata}
}

func EpisodeUnit(episodeID string) Unit {
	return Unit{kind: unitEpisode, episodeID: episodeID}
}

func (u Unit) IsEpisode() bool {
	return u.kind == unitEpisode
}

func (u Unit) EpisodeID() string {
	return u.episodeID
}

// Name is the unit label used in logs and metrics.
func (u Unit) Name() string {
	if u.kind == unitEpisode {
		return "episode"
	}
	return "metadata"
}

func (u Unit) String() string {
	if u.kind == unitEpisode {
		return "episode:" + u.episodeID
	}
	return "metadata"
}

// Key identifies one cache entry. Keys are comparable; two keys are equal
// iff all components are equal.
type Key struct {
	ProviderID string
	BookID     string
	Lang       string
	Unit       Unit
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.ProviderID, k.BookID, k.Lang, k.Unit)
}

func (k Key) validate() error {
	if k.ProviderID == "" || strings.ContainsAny(k.ProviderID, "./\\") {
		return fmt.Errorf("invalid provider id %q", k.ProviderID)
	}
	if _, err := segment(k.BookID); err != nil {
		return fmt.Errorf("invalid book id: %w", err)
	}
	if _, err := segment(k.Lang); err != nil {
		return fmt.Errorf("invalid lang: %w", err)
	}
	if k.Unit.IsEpisode() {
		if _, err := segment(k.Unit.episodeID); err != nil {
			return fmt.Errorf("invalid episode id: %w", err)
		}
	}
	return nil
}

// segment escapes a key component into a single safe path element.
func segment(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("empty path segment")
	}
	escaped := url.PathEscape(s)
	if escaped == "." || escaped == ".." {
		return "", fmt.Errorf("reserved path segment %q", s)
	}
	return escaped, nil
}

func unsegment(s string) string {
	if decoded, err := url.PathUnescape(s); err == nil {
		return decoded
	}
	return s
}

// BookFileName names an assembled book artifact:
// {provider}.{book}.{lang}.{type}, or {provider}.{book}.{lang}.mixed.{type}
// for source-and-translation interleaved output.
func BookFileName(providerID, bookID, lang, fileType string, mixed bool) string {
	parts := []string{providerID, url.PathEscape(bookID), lang}
	if mixed {
		parts = append(parts, "mixed")
	}
	parts = append(parts, fileType)
	return strings.Join(parts, ".")
}
