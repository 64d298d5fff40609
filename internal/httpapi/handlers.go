package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mononoSaya/auto-novel/internal/apperr"
	"github.com/mononoSaya/auto-novel/internal/jobs"
	"github.com/mononoSaya/auto-novel/internal/model"
)

// Defaults for an update request without explicit bounds: every episode.
const (
	defaultStartIndex = 0
	defaultEndIndex   = 65536
)

func (s *Server) handleBook(c echo.Context) error {
	view, err := s.viewer.Book(c.Request().Context(), c.Param("provider"), c.Param("book"))
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, view)
}

func (s *Server) handleList(c echo.Context) error {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return err
	}
	ret, err := s.viewer.List(c.Request().Context(), page)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, ret)
}

func (s *Server) handleCreateUpdate(c echo.Context) error {
	req, err := s.updateRequest(c)
	if err != nil {
		return err
	}
	rec, err := s.sc.Ledger.Enqueue(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusAccepted, map[string]any{
		"message": "update job queued",
		"job":     rec,
	})
}

func (s *Server) updateRequest(c echo.Context) (jobs.Request, error) {
	providerID, bookID, lang := c.Param("provider"), c.Param("book"), c.Param("lang")
	if _, err := s.sc.Providers.Get(providerID); err != nil {
		return jobs.Request{}, err
	}
	if _, err := model.ParseLang(lang); err != nil {
		return jobs.Request{}, apperr.Wrap(err, apperr.ErrValidation, "invalid language")
	}
	start, err := queryInt(c, "start_index", defaultStartIndex)
	if err != nil {
		return jobs.Request{}, err
	}
	end, err := queryInt(c, "end_index", defaultEndIndex)
	if err != nil {
		return jobs.Request{}, err
	}
	return jobs.Request{
		ProviderID: providerID,
		BookID:     bookID,
		Lang:       lang,
		StartIndex: start,
		EndIndex:   end,
	}, nil
}

func (s *Server) handleListJobs(c echo.Context) error {
	records, err := s.sc.Ledger.List(c.Request().Context())
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, records)
}

func (s *Server) handleJob(c echo.Context) error {
	ctx := c.Request().Context()
	id := jobs.JobID(c.Param("provider"), c.Param("book"), c.Param("lang"))

	status, err := s.sc.Ledger.Status(ctx, id)
	if err != nil {
		return err
	}
	ret := map[string]any{
		"id":     id,
		"status": status,
	}
	if rec, ok, err := s.sc.Ledger.Get(ctx, id); err != nil {
		return err
	} else if ok {
		ret["job"] = rec
	}
	return writeJSON(c, http.StatusOK, ret)
}

func (s *Server) handleClearJob(c echo.Context) error {
	id := jobs.JobID(c.Param("provider"), c.Param("book"), c.Param("lang"))
	if err := s.sc.Ledger.Clear(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Newf(apperr.ErrValidation, "%s must be an integer", name)
	}
	return v, nil
}
