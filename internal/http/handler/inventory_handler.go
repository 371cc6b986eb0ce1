package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tidemark/authd/internal/domain"
	"github.com/tidemark/authd/internal/service"
)

// InventoryHandler exposes the protected inventory resource.
type InventoryHandler struct {
	Inventory *service.InventoryService
}

// List returns a filtered, paginated item page.
func (h *InventoryHandler) List(c *gin.Context) {
	filter := domain.ItemFilter{
		Name:          c.Query("name"),
		SortBy:        c.Query("sort_by"),
		SortDirection: c.Query("sort_direction"),
		Page:          queryInt(c, "page"),
		PerPage:       queryInt(c, "per_page"),
	}
	if v, ok := queryInt64(c, "min_quantity"); ok {
		filter.MinQuantity = &v
	}
	if v, ok := queryInt64(c, "max_quantity"); ok {
		filter.MaxQuantity = &v
	}
	if v, ok := queryFloat(c, "min_price"); ok {
		filter.MinPrice = &v
	}
	if v, ok := queryFloat(c, "max_price"); ok {
		filter.MaxPrice = &v
	}

	page, err := h.Inventory.List(c.Request.Context(), filter)
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Create adds an item.
func (h *InventoryHandler) Create(c *gin.Context) {
	var req service.ItemInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	item, err := h.Inventory.Create(c.Request.Context(), req)
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// Get fetches one item.
func (h *InventoryHandler) Get(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	item, err := h.Inventory.Get(c.Request.Context(), id)
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// GetBySKU fetches one item by SKU.
func (h *InventoryHandler) GetBySKU(c *gin.Context) {
	item, err := h.Inventory.GetBySKU(c.Request.Context(), c.Param("sku"))
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// Update replaces an item's fields.
func (h *InventoryHandler) Update(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req service.ItemInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	item, err := h.Inventory.Update(c.Request.Context(), id, req)
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// Delete removes an item.
func (h *InventoryHandler) Delete(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.Inventory.Delete(c.Request.Context(), id); err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// Adjust applies a stock movement.
func (h *InventoryHandler) Adjust(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req struct {
		Operation string `json:"operation"`
		Amount    int64  `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	item, err := h.Inventory.Adjust(c.Request.Context(), id, req.Operation, req.Amount)
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// LowStock lists items at or below the configured threshold.
func (h *InventoryHandler) LowStock(c *gin.Context) {
	items, err := h.Inventory.LowStock(c.Request.Context())
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// BulkUpdate applies independent updates and reports per-item results.
func (h *InventoryHandler) BulkUpdate(c *gin.Context) {
	var req struct {
		Updates []service.BulkItemUpdate `json:"updates"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "updates are required."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": h.Inventory.BulkUpdate(c.Request.Context(), req.Updates)})
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid item id."})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}

func queryInt64(c *gin.Context, key string) (int64, bool) {
	n, err := strconv.ParseInt(c.Query(key), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func queryFloat(c *gin.Context, key string) (float64, bool) {
	f, err := strconv.ParseFloat(c.Query(key), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
