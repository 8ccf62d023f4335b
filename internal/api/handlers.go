package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/medsync/medsync/internal/queue"
	"github.com/medsync/medsync/internal/schema"
	"github.com/medsync/medsync/internal/store"
)

type errorResponse struct {
	Error  string              `json:"error"`
	Fields []schema.FieldError `json:"fields,omitempty"`
}

// writeError maps queue and store errors onto HTTP statuses.
func (s *Server) writeError(c echo.Context, err error) error {
	var verr *schema.ValidationError
	var lwe *queue.LocalWriteError

	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Fields: verr.Fields})
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &lwe):
		s.logger.Error().Err(err).Msg("local write failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func unknownKind(c echo.Context, err error) error {
	return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
}

// decodeRecord reads a record payload. Any sync metadata in the body is
// discarded.
func decodeRecord(c echo.Context, kind schema.Kind) (schema.Entity, error) {
	e := schema.New(kind)
	dec := json.NewDecoder(c.Request().Body)
	if err := dec.Decode(e); err != nil {
		return nil, err
	}
	*e.Meta() = schema.SyncMeta{}
	return e, nil
}

func (s *Server) handleCreate(c echo.Context) error {
	kind, err := schema.ParseKind(c.Param("kind"))
	if err != nil {
		return unknownKind(c, err)
	}
	e, err := decodeRecord(c, kind)
	if err != nil {
		return badRequest(c, "invalid JSON body: "+err.Error())
	}

	saved, err := s.queue.Enqueue(c.Request().Context(), e)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, saved)
}

func (s *Server) handleUpdate(c echo.Context) error {
	kind, err := schema.ParseKind(c.Param("kind"))
	if err != nil {
		return unknownKind(c, err)
	}
	e, err := decodeRecord(c, kind)
	if err != nil {
		return badRequest(c, "invalid JSON body: "+err.Error())
	}
	e.Meta().ID = c.Param("id")

	saved, err := s.queue.Enqueue(c.Request().Context(), e)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (s *Server) handleDelete(c echo.Context) error {
	kind, err := schema.ParseKind(c.Param("kind"))
	if err != nil {
		return unknownKind(c, err)
	}

	deleted, err := s.queue.Delete(c.Request().Context(), kind, c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, deleted)
}

func (s *Server) handleGet(c echo.Context) error {
	kind, err := schema.ParseKind(c.Param("kind"))
	if err != nil {
		return unknownKind(c, err)
	}

	e, err := s.store.Get(c.Request().Context(), kind, c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) handleList(c echo.Context) error {
	kind, err := schema.ParseKind(c.Param("kind"))
	if err != nil {
		return unknownKind(c, err)
	}

	var filter store.ListFilter
	if v := c.QueryParam("status"); v != "" {
		status, err := schema.ParseSyncStatus(v)
		if err != nil {
			return badRequest(c, err.Error())
		}
		filter.Status = status
	}
	if v := c.QueryParam("include_deleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest(c, "include_deleted must be a boolean")
		}
		filter.IncludeDeleted = b
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return badRequest(c, "limit must be a non-negative integer")
		}
		filter.Limit = n
	}

	records, err := s.store.List(c.Request().Context(), kind, filter)
	if err != nil {
		return s.writeError(c, err)
	}
	if records == nil {
		records = []schema.Entity{}
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) handlePatientDoctors(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if _, err := s.store.Get(ctx, schema.KindPatient, id); err != nil {
		return s.writeError(c, err)
	}
	links, err := s.store.Links(ctx, id)
	if err != nil {
		return s.writeError(c, err)
	}
	if links == nil {
		links = []schema.PatientDoctor{}
	}
	return c.JSON(http.StatusOK, links)
}

func (s *Server) handleStatus(c echo.Context) error {
	st, err := s.monitor.Status(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleSync(c echo.Context) error {
	return c.JSON(http.StatusOK, s.monitor.SyncNow(c.Request().Context()))
}

type networkRequest struct {
	Online *bool `json:"online"`
}

func (s *Server) handleNetwork(c echo.Context) error {
	var req networkRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if req.Online == nil {
		return badRequest(c, `"online" is required`)
	}

	s.monitor.SetOnline(*req.Online)
	return c.JSON(http.StatusOK, map[string]bool{"online": s.monitor.IsOnline()})
}

func (s *Server) handleListConflicts(c echo.Context) error {
	ctx := c.Request().Context()

	out := make(map[string][]schema.Entity, len(schema.PushOrder))
	for _, kind := range schema.PushOrder {
		records, err := s.store.List(ctx, kind, store.ListFilter{Status: schema.StatusConflict, IncludeDeleted: true})
		if err != nil {
			return s.writeError(c, err)
		}
		if records == nil {
			records = []schema.Entity{}
		}
		out[kind.Plural()] = records
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleRetryConflict(c echo.Context) error {
	kind, err := schema.ParseKind(c.Param("kind"))
	if err != nil {
		return unknownKind(c, err)
	}
	ctx := c.Request().Context()
	id := c.Param("id")

	if err := s.store.ResetConflict(ctx, kind, id); err != nil {
		return s.writeError(c, err)
	}
	if s.monitor.IsOnline() {
		s.monitor.Trigger()
	}

	e, err := s.store.Get(ctx, kind, id)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := map[string]any{
		"status": "ok",
		"online": s.monitor.IsOnline(),
	}
	if s.hub != nil {
		resp["clients"] = s.hub.ClientCount()
	}
	return c.JSON(http.StatusOK, resp)
}
