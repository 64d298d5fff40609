package service

import (
	"context"
	"path/filepath"

	"github.com/mononoSaya/auto-novel/internal/assemble"
	"github.com/mononoSaya/auto-novel/internal/cache"
	"github.com/mononoSaya/auto-novel/internal/jobs"
	"github.com/mononoSaya/auto-novel/internal/model"
	"github.com/mononoSaya/auto-novel/internal/provider"
	"github.com/mononoSaya/auto-novel/pkg/file"
)

type FileRef struct {
	Type string `json:"type"`
	// Filename is empty until the file has been assembled.
	Filename string `json:"filename"`
}

type FileGroup struct {
	Lang           string      `json:"lang"`
	Status         jobs.Status `json:"status,omitempty"`
	TotalEpisodes  int         `json:"total_episode_number"`
	CachedEpisodes int         `json:"cached_episode_number"`
	Files          []FileRef   `json:"files"`
	MixedFiles     []FileRef   `json:"mixed_files,omitempty"`
}

type BookView struct {
	URL        string      `json:"url"`
	ProviderID string      `json:"provider_id"`
	BookID     string      `json:"book_id"`
	Title      string      `json:"title"`
	Files      []FileGroup `json:"files"`
}

type ListPage struct {
	Page  int        `json:"page"`
	Total int        `json:"total"`
	Books []BookView `json:"books"`
}

// Viewer aggregates cache contents, assembled files and job status for
// presentation.
type Viewer struct {
	sc *Context
}

func NewViewer(sc *Context) *Viewer {
	return &Viewer{sc: sc}
}

// Book reads the book through its provider and attaches the job status of
// every language.
func (v *Viewer) Book(ctx context.Context, providerID, bookID string) (*BookView, error) {
	p, err := v.sc.Providers.Get(providerID)
	if err != nil {
		return nil, err
	}
	c := v.sc.BookCache(p.ID(), bookID)
	md, err := p.GetMetadata(ctx, bookID, c)
	if err != nil {
		return nil, err
	}

	view, err := v.build(ctx, p, bookID, md, c)
	if err != nil {
		return nil, err
	}
	for i := range view.Files {
		status, err := v.sc.Ledger.Status(ctx, jobs.JobID(p.ID(), bookID, view.Files[i].Lang))
		if err != nil {
			return nil, err
		}
		if status != jobs.StatusAbsent {
			view.Files[i].Status = status
		}
	}
	return view, nil
}

// List pages through cached books, most recently updated first. Books
// whose cached metadata is older than cache.list_max_age are left out of
// the page but still counted in Total.
func (v *Viewer) List(ctx context.Context, page int) (*ListPage, error) {
	listed, err := v.sc.Catalog.Page(ctx, page, v.sc.Config.Cache.ListPageSize)
	if err != nil {
		return nil, err
	}

	ret := &ListPage{
		Page:  listed.Page,
		Total: listed.Total,
		Books: make([]BookView, 0, len(listed.Books)),
	}
	for _, b := range listed.Books {
		p, err := v.sc.Providers.Get(b.ProviderID)
		if err != nil {
			continue
		}
		c := v.sc.BookCache(p.ID(), b.BookID)
		md, ok, err := c.GetMetadata(ctx, p.Lang(), cache.WithMaxAge(v.sc.Config.Cache.ListMaxAge))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		view, err := v.build(ctx, p, b.BookID, md, c)
		if err != nil {
			return nil, err
		}
		ret.Books = append(ret.Books, *view)
	}
	return ret, nil
}

func (v *Viewer) build(ctx context.Context, p provider.Provider, bookID string, md model.BookMetadata, c *cache.BookCache) (*BookView, error) {
	total := md.EpisodeCount()
	view := &BookView{
		URL:        p.BookURL(bookID),
		ProviderID: p.ID(),
		BookID:     bookID,
		Title:      md.Title,
	}

	for _, lang := range v.languages(p) {
		cached, err := c.CountEpisode(ctx, lang)
		if err != nil {
			return nil, err
		}
		group := FileGroup{
			Lang:           lang,
			TotalEpisodes:  total,
			CachedEpisodes: cached,
			Files:          v.files(p.ID(), bookID, lang, false),
		}
		if !model.SameLang(lang, p.Lang()) {
			group.MixedFiles = v.files(p.ID(), bookID, lang, true)
		}
		view.Files = append(view.Files, group)
	}
	return view, nil
}

// languages is the source language followed by every configured target
// language that differs from it.
func (v *Viewer) languages(p provider.Provider) []string {
	langs := []string{p.Lang()}
	for _, lang := range v.sc.TargetLanguages() {
		if !model.SameLang(lang, p.Lang()) {
			langs = append(langs, lang)
		}
	}
	return langs
}

func (v *Viewer) files(providerID, bookID, lang string, mixed bool) []FileRef {
	refs := make([]FileRef, 0, len(assemble.Formats))
	for _, format := range assemble.Formats {
		name := cache.BookFileName(providerID, bookID, lang, format, mixed)
		ref := FileRef{Type: format}
		if file.Exists(filepath.Join(v.sc.Books.Dir(), name)) {
			ref.Filename = name
		}
		refs = append(refs, ref)
	}
	return refs
}
