package assemble

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/mononoSaya/auto-novel/internal/apperr"
	"github.com/mononoSaya/auto-novel/internal/cache"
	"github.com/mononoSaya/auto-novel/internal/model"
	"github.com/mononoSaya/auto-novel/pkg/file"
	"github.com/mononoSaya/auto-novel/pkg/log"
)

// Formats lists the book file types this package produces.
var Formats = []string{"txt"}

// Book is everything needed to render one language of a book. For the
// source language Metadata and Source are the same value.
type Book struct {
	ProviderID string
	BookID     string
	SourceLang string
	Lang       string
	Source     model.BookMetadata
	Metadata   model.BookMetadata
	Cache      *cache.BookCache
}

func (b Book) translated() bool {
	return !model.SameLang(b.Lang, b.SourceLang)
}

type Result struct {
	Files    []string
	Episodes int
	Skipped  int
}

// TXT renders books as plain text. Translated books also get a mixed file
// with each source paragraph followed by its translation.
type TXT struct {
	dir string
}

func NewTXT(dir string) *TXT {
	return &TXT{dir: dir}
}

func (w *TXT) Dir() string { return w.dir }

// Path returns where the file for the given language variant is written.
func (w *TXT) Path(providerID, bookID, lang string, mixed bool) string {
	return filepath.Join(w.dir, cache.BookFileName(providerID, bookID, lang, "txt", mixed))
}

// Assemble writes the book files. Episodes missing from the cache are
// skipped.
func (w *TXT) Assemble(ctx context.Context, book Book) (*Result, error) {
	var plain, mixed bytes.Buffer
	translated := book.translated()

	writeHeader(&plain, book.Metadata, nil)
	if translated {
		writeHeader(&mixed, book.Metadata, &book.Source)
	}

	// The source toc is authoritative. Translated titles are used only
	// while the translated toc still lines up with it.
	aligned := len(book.Metadata.Toc) == len(book.Source.Toc)

	ret := &Result{}
	for i, token := range book.Source.Toc {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sourceTitle, title := token.Title, token.Title
		if aligned {
			title = book.Metadata.Toc[i].Title
		}

		switch token.Kind {
		case model.TocSection:
			fmt.Fprintf(&plain, "# %s\n\n", title)
			if translated {
				fmt.Fprintf(&mixed, "# %s\n# %s\n\n", sourceTitle, title)
			}
		case model.TocEpisode:
			ep, ok, err := book.Cache.GetEpisode(ctx, book.Lang, token.EpisodeID)
			if err != nil {
				return nil, err
			}
			if !ok {
				ret.Skipped++
				continue
			}

			fmt.Fprintf(&plain, "## %s\n\n", title)
			writeParagraphs(&plain, ep.Paragraphs)

			if translated {
				src, ok, err := book.Cache.GetEpisode(ctx, book.SourceLang, token.EpisodeID)
				if err != nil {
					return nil, err
				}
				fmt.Fprintf(&mixed, "## %s\n## %s\n\n", sourceTitle, title)
				if ok && len(src.Paragraphs) == len(ep.Paragraphs) {
					writeInterleaved(&mixed, src.Paragraphs, ep.Paragraphs)
				} else {
					writeParagraphs(&mixed, ep.Paragraphs)
				}
			}
			ret.Episodes++
		}
	}

	path := w.Path(book.ProviderID, book.BookID, book.Lang, false)
	if err := file.WriteAtomic(path, plain.Bytes(), 0o644); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrStorage, "write book").WithContext("path", path)
	}
	ret.Files = append(ret.Files, path)

	if translated {
		path := w.Path(book.ProviderID, book.BookID, book.Lang, true)
		if err := file.WriteAtomic(path, mixed.Bytes(), 0o644); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrStorage, "write book").WithContext("path", path)
		}
		ret.Files = append(ret.Files, path)
	}

	log.With(log.BookFields(book.ProviderID, book.BookID, book.Lang)).
		Info("assembled txt: %d episodes, %d skipped", ret.Episodes, ret.Skipped)
	return ret, nil
}

func writeHeader(buf *bytes.Buffer, md model.BookMetadata, source *model.BookMetadata) {
	if source != nil {
		fmt.Fprintf(buf, "%s\n", source.Title)
	}
	fmt.Fprintf(buf, "%s\n", md.Title)
	if source != nil && source.Introduction != "" {
		fmt.Fprintf(buf, "\n%s\n", source.Introduction)
	}
	if md.Introduction != "" {
		fmt.Fprintf(buf, "\n%s\n", md.Introduction)
	}
	buf.WriteString("\n\n")
}

func writeParagraphs(buf *bytes.Buffer, paragraphs []string) {
	for _, p := range paragraphs {
		buf.WriteString(p)
		buf.WriteByte('\n')
	}
	buf.WriteString("\n\n")
}

// writeInterleaved pairs paragraphs by index. A pair whose two sides are
// identical is written once.
func writeInterleaved(buf *bytes.Buffer, source, translated []string) {
	for i, p := range source {
		buf.WriteString(p)
		buf.WriteByte('\n')
		if p == translated[i] {
			continue
		}
		buf.WriteString(translated[i])
		buf.WriteByte('\n')
	}
	buf.WriteString("\n\n")
}
