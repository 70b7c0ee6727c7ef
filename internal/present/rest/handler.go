package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/windholt/spacehost"
	"github.com/windholt/spacehost/internal/authz"
	"github.com/windholt/spacehost/internal/domain"
	"github.com/windholt/spacehost/internal/present/rest/presenter"
	"github.com/windholt/spacehost/internal/service"
	"github.com/windholt/spacehost/internal/usecase"
)

type Handler struct {
	config domain.Config
	space  *usecase.SpaceService
	writer *usecase.DualWriteCoordinator
	signal *service.SignalService
}

func NewHandler(
	config domain.Config,
	space *usecase.SpaceService,
	writer *usecase.DualWriteCoordinator,
	signal *service.SignalService,
) *Handler {
	return &Handler{
		config: config,
		space:  space,
		writer: writer,
		signal: signal,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/.well-known/spacehost", h.handleWellKnown)
	e.POST("/xrpc/com.atproto.repo.createRecord", h.handleCreateRecord)
	e.POST("/xrpc/com.atproto.repo.putRecord", h.handlePutRecord)
	e.POST("/xrpc/com.atproto.repo.deleteRecord", h.handleDeleteRecord)
	e.GET("/xrpc/com.atproto.repo.getRecord", h.handleGetRecord)
	e.GET("/xrpc/com.atproto.repo.listRecords", h.handleListRecords)
	e.POST("/xrpc/com.atproto.space.createSpace", h.handleCreateSpace)
	e.POST("/xrpc/com.atproto.space.createGroup", h.handleCreateGroup)
	e.GET("/xrpc/com.atproto.space.listSpaces", h.handleListSpaces)
	e.GET("/xrpc/com.atproto.space.listGroups", h.handleListGroups)
	e.GET("/xrpc/com.atproto.space.listCollections", h.handleListCollections)
	e.GET("/api/v1/records/all", h.handleListAll)
	e.GET("/api/v1/records/count", h.handleRecordCount)
	e.POST("/api/v1/takedown", h.handleTakedown)
	e.GET("/api/v1/takedown", h.handleGetTakedown)
	e.GET("/realtime", h.handleRealtime)
}

func (h *Handler) handleWellKnown(c echo.Context) error {
	wellknown := spacehost.WellKnownSpacehost{
		Version: "1.0",
		Domain:  h.config.FQDN,
		Endpoints: map[string]spacehost.Endpoint{
			"com.atproto.repo.createRecord": {
				Template: "/xrpc/com.atproto.repo.createRecord",
				Method:   "POST",
			},
			"com.atproto.repo.putRecord": {
				Template: "/xrpc/com.atproto.repo.putRecord",
				Method:   "POST",
			},
			"com.atproto.repo.deleteRecord": {
				Template: "/xrpc/com.atproto.repo.deleteRecord",
				Method:   "POST",
			},
			"com.atproto.repo.getRecord": {
				Template: "/xrpc/com.atproto.repo.getRecord",
				Method:   "GET",
				Query:    &[]string{"repo", "space", "collection", "rkey", "cid"},
			},
			"com.atproto.repo.listRecords": {
				Template: "/xrpc/com.atproto.repo.listRecords",
				Method:   "GET",
				Query:    &[]string{"repo", "space", "collection", "limit", "cursor", "reverse", "rkeyStart", "rkeyEnd"},
			},
			"com.atproto.space.createSpace": {
				Template: "/xrpc/com.atproto.space.createSpace",
				Method:   "POST",
			},
			"com.atproto.space.createGroup": {
				Template: "/xrpc/com.atproto.space.createGroup",
				Method:   "POST",
			},
			"spacehost.realtime": {
				Template: "/realtime",
				Method:   "GET",
			},
		},
	}
	return presenter.OK(c, wellknown)
}

type writeRecordRequest struct {
	Repo       string         `json:"repo"`
	Space      string         `json:"space,omitempty"`
	Collection string         `json:"collection"`
	RKey       string         `json:"rkey,omitempty"`
	Record     map[string]any `json:"record,omitempty"`
	SwapRecord string         `json:"swapRecord,omitempty"`
	Zookie     string         `json:"zookie,omitempty"`
}

type writeRecordResponse struct {
	URI     string `json:"uri"`
	CID     string `json:"cid,omitempty"`
	Zookie  string `json:"zookie,omitempty"`
	Partial bool   `json:"partial,omitempty"`
}

func (h *Handler) handleCreateRecord(c echo.Context) error {
	return h.handleWrite(c, domain.ActionCreate)
}

func (h *Handler) handlePutRecord(c echo.Context) error {
	return h.handleWrite(c, domain.ActionUpdate)
}

func (h *Handler) handleDeleteRecord(c echo.Context) error {
	return h.handleWrite(c, domain.ActionDelete)
}

func (h *Handler) handleWrite(c echo.Context, action domain.WriteAction) error {
	ctx := c.Request().Context()

	actor, ok := ctx.Value(domain.RequesterDIDCtxKey).(string)
	if !ok || actor == "" {
		return presenter.Unauthorized(c, "requester identity is required")
	}

	var req writeRecordRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if action != domain.ActionDelete && req.Record == nil {
		return presenter.BadRequestMessage(c, "record is required")
	}
	if action != domain.ActionCreate && req.RKey == "" {
		return presenter.BadRequestMessage(c, "rkey is required")
	}

	consistency, err := parseConsistency(req.Zookie)
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	result, err := h.writer.Write(ctx, usecase.WriteRequest{
		Action:      action,
		ActorDID:    actor,
		Repo:        req.Repo,
		Space:       req.Space,
		Collection:  req.Collection,
		RKey:        req.RKey,
		Value:       req.Record,
		ExpectedCID: req.SwapRecord,
		Consistency: consistency,
	})
	if err != nil {
		return writeError(c, err)
	}

	return presenter.OK(c, writeRecordResponse{
		URI:     result.URI,
		CID:     result.CID,
		Zookie:  result.Zookie,
		Partial: result.State == domain.StateAuthzWriteFailed,
	})
}

type createContainerRequest struct {
	Repo   string         `json:"repo"`
	Parent string         `json:"parent,omitempty"`
	Name   string         `json:"name"`
	Bubble bool           `json:"bubble,omitempty"`
	Record map[string]any `json:"record,omitempty"`
	Zookie string         `json:"zookie,omitempty"`
}

func (h *Handler) handleCreateSpace(c echo.Context) error {
	return h.handleCreateContainer(c, domain.CollectionSpace)
}

func (h *Handler) handleCreateGroup(c echo.Context) error {
	return h.handleCreateContainer(c, domain.CollectionGroup)
}

func (h *Handler) handleCreateContainer(c echo.Context, collection string) error {
	ctx := c.Request().Context()

	actor, ok := ctx.Value(domain.RequesterDIDCtxKey).(string)
	if !ok || actor == "" {
		return presenter.Unauthorized(c, "requester identity is required")
	}

	var req createContainerRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if req.Name == "" {
		return presenter.BadRequestMessage(c, "name is required")
	}

	consistency, err := parseConsistency(req.Zookie)
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	value := req.Record
	if value == nil {
		value = map[string]any{}
	}
	value["$type"] = collection
	if collection == domain.CollectionSpace && req.Bubble {
		value["bubble"] = true
	}

	result, err := h.writer.Write(ctx, usecase.WriteRequest{
		Action:      domain.ActionCreate,
		ActorDID:    actor,
		Repo:        req.Repo,
		Space:       req.Parent,
		Collection:  collection,
		RKey:        req.Name,
		Value:       value,
		Consistency: consistency,
	})
	if err != nil {
		return writeError(c, err)
	}

	return presenter.OK(c, writeRecordResponse{
		URI:     result.URI,
		CID:     result.CID,
		Zookie:  result.Zookie,
		Partial: result.State == domain.StateAuthzWriteFailed,
	})
}

func (h *Handler) handleGetRecord(c echo.Context) error {
	ctx := c.Request().Context()

	uri := c.QueryParam("uri")
	if uri == "" {
		repo := c.QueryParam("repo")
		collection := c.QueryParam("collection")
		rkey := c.QueryParam("rkey")
		if repo == "" || collection == "" || rkey == "" {
			return presenter.BadRequestMessage(c, "uri or repo, collection, and rkey are required")
		}
		uri = spacehost.MakeAtURI(repo, collection, rkey).String()
	}

	record, err := h.space.GetRecord(ctx, uri, c.QueryParam("cid"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFound(c, "record not found")
		}
		if errors.Is(err, domain.ErrMalformedURI) {
			return presenter.BadRequest(c, err)
		}
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, record)
}

func (h *Handler) handleListRecords(c echo.Context) error {
	ctx := c.Request().Context()

	collection := c.QueryParam("collection")
	if collection == "" {
		return presenter.BadRequestMessage(c, "collection parameter is required")
	}

	space := c.QueryParam("space")
	if space == "" {
		space = domain.RootSpace
	}

	limit := 0
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		limitInt, err := strconv.Atoi(limitStr)
		if err != nil {
			return presenter.BadRequestMessage(c, "invalid limit parameter")
		}
		limit = limitInt
	}

	reverse := false
	if reverseStr := c.QueryParam("reverse"); reverseStr != "" {
		parsed, err := strconv.ParseBool(reverseStr)
		if err != nil {
			return presenter.BadRequestMessage(c, "invalid reverse parameter")
		}
		reverse = parsed
	}

	records, cursor, err := h.space.ListRecords(ctx, domain.ListQuery{
		Owner:      c.QueryParam("repo"),
		Space:      space,
		Collection: collection,
		Limit:      limit,
		Reverse:    reverse,
		Cursor:     c.QueryParam("cursor"),
		RKeyStart:  c.QueryParam("rkeyStart"),
		RKeyEnd:    c.QueryParam("rkeyEnd"),
	})
	if err != nil {
		return presenter.InternalError(c, err)
	}

	return presenter.OK(c, echo.Map{
		"records": records,
		"cursor":  cursor,
	})
}

func (h *Handler) handleListSpaces(c echo.Context) error {
	return h.handleListNames(c, h.space.ListSpaces)
}

func (h *Handler) handleListGroups(c echo.Context) error {
	return h.handleListNames(c, h.space.ListGroups)
}

func (h *Handler) handleListCollections(c echo.Context) error {
	return h.handleListNames(c, h.space.ListCollections)
}

func (h *Handler) handleListNames(c echo.Context, list func(ctx context.Context, space string) ([]string, error)) error {
	ctx := c.Request().Context()

	space := c.QueryParam("space")
	if space == "" {
		space = domain.RootSpace
	}

	names, err := list(ctx, space)
	if err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, names)
}

func (h *Handler) handleListAll(c echo.Context) error {
	ctx := c.Request().Context()

	records, err := h.space.ListAll(ctx)
	if err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, records)
}

func (h *Handler) handleRecordCount(c echo.Context) error {
	ctx := c.Request().Context()

	count, err := h.space.RecordCount(ctx)
	if err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, echo.Map{"count": count})
}

type takedownRequest struct {
	URI     string `json:"uri"`
	Applied bool   `json:"applied"`
	Ref     string `json:"ref,omitempty"`
}

func (h *Handler) handleTakedown(c echo.Context) error {
	ctx := c.Request().Context()

	var req takedownRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if req.URI == "" {
		return presenter.BadRequestMessage(c, "uri is required")
	}

	err := h.space.SetTakedown(ctx, req.URI, domain.StatusAttr{
		Applied: req.Applied,
		Ref:     req.Ref,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFound(c, "record not found")
		}
		if errors.Is(err, domain.ErrMalformedURI) {
			return presenter.BadRequest(c, err)
		}
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleGetTakedown(c echo.Context) error {
	ctx := c.Request().Context()

	uri := c.QueryParam("uri")
	if uri == "" {
		return presenter.BadRequestMessage(c, "uri is required")
	}

	status, err := h.space.GetTakedownStatus(ctx, uri)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFound(c, "record not found")
		}
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, status)
}

func parseConsistency(zookie string) (authz.Consistency, error) {
	if zookie == "" {
		return authz.MinimizeLatency(), nil
	}
	return authz.FromToken(zookie)
}

func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrDenied):
		return presenter.Forbidden(c, err)
	case errors.Is(err, domain.ErrNotFound):
		return presenter.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrOptimisticConflict):
		return presenter.Conflict(c, err)
	case errors.Is(err, domain.ErrInvalidIdentifier),
		errors.Is(err, domain.ErrInvalidRecordKey),
		errors.Is(err, domain.ErrUnknownParent),
		errors.Is(err, domain.ErrMalformedURI):
		return presenter.BadRequest(c, err)
	default:
		return presenter.InternalError(c, err)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Request struct {
	Type   string   `json:"type"`
	Spaces []string `json:"spaces"`
}

func (h *Handler) handleRealtime(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return err
	}
	defer func() {
		ws.Close()
	}()

	// Realtime owns both channels; teardown is the cancelled context, so
	// an in-flight event delivery never races a channel close.
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	input := make(chan []string)
	output := make(chan spacehost.Event)

	go h.signal.Realtime(ctx, input, output)

	quit := make(chan struct{})

	go func() {
		defer close(quit)
		for {
			var req Request
			err := ws.ReadJSON(&req)
			if err != nil {

				wsErr, ok := err.(*websocket.CloseError)
				if ok {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						slog.DebugContext(
							ctx, "WebSocket closed",
							slog.String("error", wsErr.Error()),
							slog.String("module", "socket"),
						)
					}
				} else {
					slog.ErrorContext(
						ctx, "Error reading message",
						slog.String("error", err.Error()),
						slog.String("module", "socket"),
					)
				}

				return
			}

			switch req.Type {
			case "listen":
				select {
				case input <- req.Spaces:
				case <-ctx.Done():
					return
				}
				slog.DebugContext(
					ctx, fmt.Sprintf("Socket subscribe: %s", req.Spaces),
					slog.String("module", "socket"),
				)
			case "h": // heartbeat
				// do nothing
			default:
				slog.InfoContext(
					ctx, "Unknown request type",
					slog.String("type", req.Type),
					slog.String("module", "socket"),
				)
			}
		}
	}()

	for {
		select {
		case <-quit:
			return nil
		case items := <-output:
			err := ws.WriteJSON(items)
			if err != nil {
				slog.ErrorContext(
					ctx, "Error writing message",
					slog.String("error", err.Error()),
					slog.String("module", "socket"),
				)
				return nil
			}
		}
	}
}
