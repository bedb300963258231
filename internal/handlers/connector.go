package handlers

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/tendril/pkg/lifecycle"
)

var validate = validator.New()

// ConnectorHandler handles connector-related API requests
type ConnectorHandler struct {
	manager *lifecycle.Manager
}

// NewConnectorHandler creates a new connector handler
func NewConnectorHandler(manager *lifecycle.Manager) *ConnectorHandler {
	return &ConnectorHandler{
		manager: manager,
	}
}

// SyncRequest is the request body for triggering a manual sync. A nil FromTs
// requests a full re-sync; a set value rewinds the incremental cursor.
type SyncRequest struct {
	FromTs *time.Time `json:"from_ts,omitempty"`
}

// SetPermissionsRequest is the request body for a permission batch
type SetPermissionsRequest struct {
	Updates []lifecycle.PermissionUpdate `json:"updates" validate:"required,min=1,dive"`
}

// BatchContentNodesRequest is the request body for resolving internal IDs
type BatchContentNodesRequest struct {
	InternalIDs []string `json:"internal_ids" validate:"required,min=1"`
}

// RegisterRoutes registers the connector routes
func (h *ConnectorHandler) RegisterRoutes(g *echo.Group) {
	connectors := g.Group("/connectors")
	connectors.POST("", h.Create)
	connectors.GET("", h.List)
	connectors.GET("/:id", h.Get)
	connectors.PUT("/:id", h.Update)
	connectors.DELETE("/:id", h.Clean)

	connectors.POST("/:id/pause", h.Pause)
	connectors.POST("/:id/unpause", h.Unpause)
	connectors.POST("/:id/stop", h.Stop)
	connectors.POST("/:id/resume", h.Resume)
	connectors.POST("/:id/sync", h.Sync)

	connectors.GET("/:id/permissions", h.RetrievePermissions)
	connectors.POST("/:id/permissions", h.SetPermissions)

	connectors.POST("/:id/content-nodes", h.RetrieveBatchContentNodes)
	// Internal IDs can contain dots, so the target node rides in the query
	// string instead of the path.
	connectors.GET("/:id/content-nodes/parents", h.RetrieveContentNodeParents)
}

// Create handles POST /connectors
func (h *ConnectorHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	var req lifecycle.CreateConnectorRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}

	connector, err := h.manager.Create(ctx, req)
	if err != nil {
		return mapError(err)
	}

	return CreatedResponse(c, connector)
}

// List handles GET /connectors
func (h *ConnectorHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	connectors, err := h.manager.List(ctx)
	if err != nil {
		return mapError(err)
	}

	return SuccessResponse(c, connectors)
}

// Get handles GET /connectors/:id
func (h *ConnectorHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	connector, err := h.manager.Get(ctx, id)
	if err != nil {
		return mapError(err)
	}

	return SuccessResponse(c, connector)
}

// Update handles PUT /connectors/:id
func (h *ConnectorHandler) Update(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req lifecycle.UpdateConnectorRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}

	connector, err := h.manager.Update(ctx, id, req)
	if err != nil {
		return mapError(err)
	}

	return SuccessResponse(c, connector)
}

// Clean handles DELETE /connectors/:id
func (h *ConnectorHandler) Clean(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.manager.Clean(ctx, id); err != nil {
		return mapError(err)
	}

	return NoContentResponse(c)
}

// Pause handles POST /connectors/:id/pause
func (h *ConnectorHandler) Pause(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.manager.Pause(ctx, id); err != nil {
		return mapError(err)
	}

	return NoContentResponse(c)
}

// Unpause handles POST /connectors/:id/unpause
func (h *ConnectorHandler) Unpause(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.manager.Unpause(ctx, id); err != nil {
		return mapError(err)
	}

	return NoContentResponse(c)
}

// Stop handles POST /connectors/:id/stop
func (h *ConnectorHandler) Stop(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.manager.Stop(ctx, id); err != nil {
		return mapError(err)
	}

	return NoContentResponse(c)
}

// Resume handles POST /connectors/:id/resume
func (h *ConnectorHandler) Resume(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.manager.Resume(ctx, id); err != nil {
		return mapError(err)
	}

	return NoContentResponse(c)
}

// Sync handles POST /connectors/:id/sync
func (h *ConnectorHandler) Sync(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req SyncRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	if err := h.manager.Sync(ctx, id, req.FromTs); err != nil {
		return mapError(err)
	}

	return NoContentResponse(c)
}

// RetrievePermissions handles GET /connectors/:id/permissions
func (h *ConnectorHandler) RetrievePermissions(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var parentInternalID *string
	if parent := c.QueryParam("parent_internal_id"); parent != "" {
		parentInternalID = &parent
	}

	nodes, err := h.manager.RetrievePermissions(ctx, id, parentInternalID)
	if err != nil {
		return mapError(err)
	}

	return SuccessResponse(c, nodes)
}

// SetPermissions handles POST /connectors/:id/permissions
func (h *ConnectorHandler) SetPermissions(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req SetPermissionsRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}

	if err := h.manager.SetPermissions(ctx, id, req.Updates); err != nil {
		return mapError(err)
	}

	return NoContentResponse(c)
}

// RetrieveBatchContentNodes handles POST /connectors/:id/content-nodes
func (h *ConnectorHandler) RetrieveBatchContentNodes(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req BatchContentNodesRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}

	nodes, err := h.manager.RetrieveBatchContentNodes(ctx, id, req.InternalIDs)
	if err != nil {
		return mapError(err)
	}

	return SuccessResponse(c, nodes)
}

// RetrieveContentNodeParents handles GET /connectors/:id/content-nodes/parents
func (h *ConnectorHandler) RetrieveContentNodeParents(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	internalID := c.QueryParam("internal_id")
	if internalID == "" {
		return BadRequest("internal_id query parameter is required")
	}

	parents, err := h.manager.RetrieveContentNodeParents(ctx, id, internalID)
	if err != nil {
		return mapError(err)
	}

	return SuccessResponse(c, parents)
}
