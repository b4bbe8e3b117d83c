package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/kkzk/remindmine/internal/advice"
	"github.com/kkzk/remindmine/internal/ledger"
	"github.com/kkzk/remindmine/internal/services"
	"github.com/kkzk/remindmine/internal/summary"
	"github.com/kkzk/remindmine/internal/tracker"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

// httpError maps domain errors onto status codes.
func (s *Server) httpError(c echo.Context, err error, msg string) error {
	status := http.StatusInternalServerError
	public := msg
	switch {
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, tracker.ErrItemNotFound):
		status = http.StatusNotFound
	case errors.Is(err, summary.ErrNothingToSummarize), errors.Is(err, tracker.ErrInvalidItem):
		status = http.StatusBadRequest
	case errors.Is(err, advice.ErrNoAdvice):
		status = http.StatusBadGateway
		public = advice.Apology
	case errors.Is(err, tracker.ErrRequestFailed):
		status = http.StatusBadGateway
	}
	s.logger.Warn(msg,
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Error(err),
	)
	return echo.NewHTTPError(status, public)
}

func pathID(c echo.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "id must be a positive integer")
	}
	return id, nil
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleReindex(c echo.Context) error {
	force := false
	if v := c.QueryParam("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "force must be true or false")
		}
		force = b
	}

	n, err := s.reg.Resyncer().Resync(c.Request().Context(), force)
	if err != nil {
		s.logger.Error("reindex failed", zap.Bool("force", force), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "reindex failed")
	}
	return c.JSON(http.StatusOK, ReindexResponse{ChunksAdded: n, Force: force})
}

// handleSearch never fails on retrieval problems; they yield no results.
func (s *Server) handleSearch(c echo.Context) error {
	query := c.QueryParam("query")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter is required")
	}

	limit := defaultSearchLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxSearchLimit)
	}

	var exclude *int
	if v := c.QueryParam("exclude"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "exclude must be an integer")
		}
		exclude = &n
	}

	results, _ := s.reg.Retriever().Search(c.Request().Context(), query, limit, exclude)
	return c.JSON(http.StatusOK, SearchResponse{Query: query, Results: results})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := services.CollectStats(c.Request().Context(), s.reg)
	if err != nil {
		return s.httpError(c, err, "collecting stats failed")
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleCollections(c echo.Context) error {
	cols, err := ListCollections(c.Request().Context(), s.reg.VectorStore(), s.reg.Indexer().Collection())
	if err != nil {
		return s.httpError(c, err, "listing collections failed")
	}
	return c.JSON(http.StatusOK, CollectionsResponse{Collections: cols})
}

func (s *Server) handleListAdvice(c echo.Context) error {
	pending := services.PendingAdvice(s.reg)
	return c.JSON(http.StatusOK, AdviceListResponse{Count: len(pending), Pending: pending})
}

func (s *Server) handleGetAdvice(c echo.Context) error {
	e, err := s.reg.Ledger().Get(c.Param("id"))
	if err != nil {
		return s.httpError(c, err, "pending advice not found")
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) handleApproveAdvice(c echo.Context) error {
	e, err := s.reg.Reviewer().Approve(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return s.httpError(c, err, "pending advice not found")
		}
		s.logger.Error("posting approved advice failed", zap.String("id", c.Param("id")), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "posting advice to tracker failed")
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) handleRejectAdvice(c echo.Context) error {
	e, err := s.reg.Reviewer().Reject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.httpError(c, err, "pending advice not found")
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) handleClearAdvice(c echo.Context) error {
	n, err := s.reg.Ledger().ClearAll()
	if err != nil {
		return s.httpError(c, err, "clearing pending advice failed")
	}
	return c.JSON(http.StatusOK, ClearResponse{Cleared: n})
}

func (s *Server) handleGenerateAdvice(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := services.AdviseItem(c.Request().Context(), s.reg, id, true)
	if err != nil {
		return s.httpError(c, err, "advice generation failed")
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleSummary(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	item, err := s.reg.Source().GetItem(ctx, id)
	if err != nil {
		return s.httpError(c, err, "fetching issue failed")
	}
	e, err := s.reg.Summarizer().Summarize(ctx, *item)
	if errors.Is(err, summary.ErrNothingToSummarize) {
		return s.httpError(c, err, "issue has nothing to summarize")
	}
	if err != nil {
		s.logger.Error("summarizing issue failed", zap.Int("issue_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "summarizing issue failed")
	}
	return c.JSON(http.StatusOK, SummaryResponse{
		IssueID:      id,
		Summary:      e.Summary,
		HasJournals:  e.HasJournals,
		JournalCount: e.JournalCount,
	})
}

func (s *Server) handleGetSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, SettingsResponse{AutoAdvice: s.reg.Settings().AutoAdvice()})
}

func (s *Server) handleSetAutoAdvice(c echo.Context) error {
	var req AutoAdviceRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "enabled field is required")
	}
	s.reg.Settings().SetAutoAdvice(*req.Enabled)
	s.logger.Info("auto advice toggled", zap.Bool("enabled", *req.Enabled))
	return c.JSON(http.StatusOK, SettingsResponse{AutoAdvice: *req.Enabled})
}
