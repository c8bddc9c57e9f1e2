// Customer-tab HTTP handlers.
//
// This file exposes the tab and table-linking surface:
//   - POST   /tables/:table/tabs  (open a tab)
//   - POST   /tabs/:id/items      (add items)
//   - POST   /tabs/:id/split      (split selected quantities onto a new tab)
//   - POST   /tabs/:id/merge      (merge this tab into a target)
//   - POST   /tabs/:id/move       (move selected quantities to another tab)
//   - POST   /tabs/:id/close      (close a settled tab)
//   - POST   /table-links         (link tables into a group)
//   - DELETE /table-links/:group  (dissolve a group)
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pos-backend/internal/domain"
	"github.com/tbourn/go-pos-backend/internal/services"
)

// CreateTabRequest is the JSON payload for opening a tab.
type CreateTabRequest struct {
	// Name labels the tab for the operator; defaults to "Guest".
	Name string `json:"name"`
}

// AddItemsRequest is the JSON payload for adding items to a tab.
type AddItemsRequest struct {
	Items []domain.OrderItem `json:"items" binding:"required,min=1"`
}

// SplitTabRequest selects quantities to move onto a fresh tab.
type SplitTabRequest struct {
	Selection  domain.ItemSelection `json:"selection" binding:"required,min=1"`
	NewTabName string               `json:"new_tab_name"`
}

// MergeTabsRequest names the surviving tab of a merge.
type MergeTabsRequest struct {
	TargetTabID string `json:"target_tab_id" binding:"required"`
}

// MoveItemsRequest selects quantities to transfer to another open tab.
type MoveItemsRequest struct {
	ToTabID   string               `json:"to_tab_id" binding:"required"`
	Selection domain.ItemSelection `json:"selection" binding:"required,min=1"`
}

// LinkTablesRequest groups a primary table with secondaries for one party.
type LinkTablesRequest struct {
	PrimaryTable    int   `json:"primary_table" binding:"required"`
	SecondaryTables []int `json:"secondary_tables" binding:"required,min=1"`
}

// tabError translates tab-service errors into HTTP results. Precondition
// violations are 409s with a specific code so the UI can explain the exact
// conflict; unknown errors fall through to 500.
func tabError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrTabNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "tab not found")
	case errors.Is(err, services.ErrTabClosed):
		fail(c, http.StatusConflict, ErrCodeTabClosed, "tab is closed")
	case errors.Is(err, services.ErrInvalidTableState):
		fail(c, http.StatusConflict, ErrCodeInvalidTableState, "table has no active order")
	case errors.Is(err, services.ErrInsufficientQuantity):
		fail(c, http.StatusConflict, ErrCodeInsufficientQuantity, "selection exceeds available quantity")
	case errors.Is(err, services.ErrCrossTableMerge):
		fail(c, http.StatusConflict, ErrCodeCrossTableMerge, "tabs belong to different tables or groups")
	case errors.Is(err, services.ErrConcurrentModification):
		fail(c, http.StatusConflict, ErrCodeConcurrentModification, "another tab operation is in progress")
	case errors.Is(err, services.ErrTableAlreadyLinked):
		fail(c, http.StatusConflict, ErrCodeTableAlreadyLinked, "table already belongs to a linked group")
	case errors.Is(err, services.ErrActiveGroupHasOpenTabs):
		fail(c, http.StatusConflict, ErrCodeActiveGroupOpenTabs, "linked group still has open tabs with items")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// tableParam parses the :table path segment.
func tableParam(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("table"))
	if err != nil || n <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid table number")
		return 0, false
	}
	return n, true
}

// CreateTab handles POST /tables/:table/tabs.
func (h *Handlers) CreateTab(c *gin.Context) {
	table, valid := tableParam(c)
	if !valid {
		return
	}
	var req CreateTabRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid tab payload")
			return
		}
	}
	tab, err := h.tabs.CreateTab(c.Request.Context(), table, req.Name)
	if err != nil {
		tabError(c, err)
		return
	}
	ok(c, http.StatusCreated, tab)
}

// AddItems handles POST /tabs/:id/items.
func (h *Handlers) AddItems(c *gin.Context) {
	var req AddItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "items are required")
		return
	}
	tab, err := h.tabs.AddItems(c.Request.Context(), c.Param("id"), req.Items)
	if err != nil {
		tabError(c, err)
		return
	}
	ok(c, http.StatusOK, tab)
}

// SplitTab handles POST /tabs/:id/split.
func (h *Handlers) SplitTab(c *gin.Context) {
	var req SplitTabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "a non-empty selection is required")
		return
	}
	newTab, err := h.tabs.SplitTab(c.Request.Context(), c.Param("id"), req.Selection, req.NewTabName)
	if err != nil {
		tabError(c, err)
		return
	}
	ok(c, http.StatusCreated, newTab)
}

// MergeTabs handles POST /tabs/:id/merge. The path tab is the source; it is
// closed after its items land on the target.
func (h *Handlers) MergeTabs(c *gin.Context) {
	var req MergeTabsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "target_tab_id is required")
		return
	}
	target, err := h.tabs.MergeTabs(c.Request.Context(), c.Param("id"), req.TargetTabID)
	if err != nil {
		tabError(c, err)
		return
	}
	ok(c, http.StatusOK, target)
}

// MoveItems handles POST /tabs/:id/move.
func (h *Handlers) MoveItems(c *gin.Context) {
	var req MoveItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "to_tab_id and a non-empty selection are required")
		return
	}
	target, err := h.tabs.MoveItems(c.Request.Context(), c.Param("id"), req.ToTabID, req.Selection)
	if err != nil {
		tabError(c, err)
		return
	}
	ok(c, http.StatusOK, target)
}

// CloseTab handles POST /tabs/:id/close.
func (h *Handlers) CloseTab(c *gin.Context) {
	if err := h.tabs.CloseTab(c.Request.Context(), c.Param("id")); err != nil {
		tabError(c, err)
		return
	}
	noContent(c)
}

// LinkTables handles POST /table-links.
func (h *Handlers) LinkTables(c *gin.Context) {
	var req LinkTablesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "primary_table and secondary_tables are required")
		return
	}
	groupID, err := h.tabs.LinkTables(c.Request.Context(), req.PrimaryTable, req.SecondaryTables)
	if err != nil {
		tabError(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"group_id": groupID})
}

// UnlinkTables handles DELETE /table-links/:group.
func (h *Handlers) UnlinkTables(c *gin.Context) {
	if err := h.tabs.UnlinkTables(c.Request.Context(), c.Param("group")); err != nil {
		tabError(c, err)
		return
	}
	noContent(c)
}
