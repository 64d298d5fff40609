package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// handleJobStream pushes the ledger contents as server-sent events until
// the client disconnects.
func (s *Server) handleJobStream(c echo.Context) error {
	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	send := func() bool {
		records, err := s.sc.Ledger.List(ctx)
		if err != nil {
			return false
		}
		payload, err := json.Marshal(records)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		w.Flush()
		return true
	}

	if !send() {
		return nil
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !send() {
				return nil
			}
		}
	}
}
