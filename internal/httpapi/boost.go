package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mononoSaya/auto-novel/internal/apperr"
	"github.com/mononoSaya/auto-novel/internal/service"
)

const maxUploadBytes = 8 << 20

func (s *Server) handleBoostPending(c echo.Context) error {
	start, err := queryInt(c, "start_index", defaultStartIndex)
	if err != nil {
		return err
	}
	end, err := queryInt(c, "end_index", defaultEndIndex)
	if err != nil {
		return err
	}
	work, err := s.booster.Pending(c.Request().Context(), c.Param("provider"), c.Param("book"), start, end)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, work)
}

func (s *Server) handleBoostSubmitMetadata(c echo.Context) error {
	results, err := readResults(c)
	if err != nil {
		return err
	}
	err = s.booster.SubmitMetadata(c.Request().Context(), c.Param("provider"), c.Param("book"), results)
	if err != nil {
		return uploadError(err)
	}
	return writeJSON(c, http.StatusOK, map[string]any{"message": "saved"})
}

func (s *Server) handleBoostSourceEpisode(c echo.Context) error {
	paragraphs, err := s.booster.SourceEpisode(c.Request().Context(), c.Param("provider"), c.Param("book"), c.Param("episode"))
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, paragraphs)
}

func (s *Server) handleBoostSubmitEpisode(c echo.Context) error {
	results, err := readResults(c)
	if err != nil {
		return err
	}
	err = s.booster.SubmitEpisode(c.Request().Context(), c.Param("provider"), c.Param("book"), c.Param("episode"), results)
	if errors.Is(err, service.ErrAlreadyTranslated) {
		return writeJSON(c, http.StatusOK, map[string]any{"message": "already exists"})
	}
	if err != nil {
		return uploadError(err)
	}
	return writeJSON(c, http.StatusOK, map[string]any{"message": "saved"})
}

func (s *Server) handleBoostMake(c echo.Context) error {
	res, err := s.booster.Make(c.Request().Context(), c.Param("provider"), c.Param("book"))
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, res)
}

func readResults(c echo.Context) ([]string, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxUploadBytes+1))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrValidation, "read request body")
	}
	if len(body) > maxUploadBytes {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	return ValidateResults(body)
}

// uploadError reports a result count mismatch as the caller's fault.
func uploadError(err error) error {
	if errors.Is(err, apperr.TranslationArity) {
		return echo.NewHTTPError(http.StatusBadRequest, apperr.UserMessage(err))
	}
	return err
}
