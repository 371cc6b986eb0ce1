package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tidemark/authd/internal/config"
	"github.com/tidemark/authd/internal/domain"
	"github.com/tidemark/authd/internal/repository"
)

const maxPerPage = 100

// ItemInput describes an item create or update request.
type ItemInput struct {
	SKU         string  `json:"sku"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Quantity    int64   `json:"quantity"`
	Price       float64 `json:"price"`
}

// BulkItemUpdate addresses one item within a bulk request.
type BulkItemUpdate struct {
	ID   int64     `json:"id"`
	Item ItemInput `json:"item"`
}

// BulkResult reports the outcome of one entry in a bulk request.
type BulkResult struct {
	ID    int64        `json:"id"`
	OK    bool         `json:"ok"`
	Item  *domain.Item `json:"item,omitempty"`
	Error string       `json:"error,omitempty"`
}

// ItemPage is a paginated listing.
type ItemPage struct {
	Items   []domain.Item `json:"items"`
	Total   int64         `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
}

// InventoryService implements the protected inventory resource.
type InventoryService struct {
	items  repository.ItemRepository
	node   *snowflake.Node
	cfg    config.Config
	logger *zap.Logger
	tracer trace.Tracer
}

// NewInventoryService wires dependencies.
func NewInventoryService(items repository.ItemRepository, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *InventoryService {
	return &InventoryService{
		items:  items,
		node:   node,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("github.com/tidemark/authd/internal/service"),
	}
}

func validateItemInput(in ItemInput) error {
	if strings.TrimSpace(in.SKU) == "" || strings.TrimSpace(in.Name) == "" {
		return newOAuthError(ErrCodeInvalidRequest, "sku and name are required", http.StatusBadRequest)
	}
	if in.Quantity < 0 {
		return newOAuthError(ErrCodeInvalidRequest, "quantity must not be negative", http.StatusBadRequest)
	}
	if in.Price < 0 {
		return newOAuthError(ErrCodeInvalidRequest, "price must not be negative", http.StatusBadRequest)
	}
	return nil
}

// Create persists a new item.
func (s *InventoryService) Create(ctx context.Context, in ItemInput) (domain.Item, error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.Create")
	defer span.End()

	if err := validateItemInput(in); err != nil {
		return domain.Item{}, err
	}
	item, err := s.items.Create(ctx, domain.Item{
		ID:          s.node.Generate().Int64(),
		SKU:         strings.TrimSpace(in.SKU),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Quantity:    in.Quantity,
		Price:       in.Price,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return domain.Item{}, newOAuthError(ErrCodeConflict, "sku already exists", http.StatusConflict)
		}
		span.RecordError(err)
		return domain.Item{}, errServer("could not persist item")
	}
	s.logger.Info("item created", zap.Int64("item_id", item.ID), zap.String("sku", item.SKU))
	return item, nil
}

// Get fetches one item.
func (s *InventoryService) Get(ctx context.Context, itemID int64) (domain.Item, error) {
	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Item{}, newOAuthError(ErrCodeNotFound, "item not found", http.StatusNotFound)
		}
		return domain.Item{}, errServer("item lookup failed")
	}
	return item, nil
}

// GetBySKU fetches one item by its SKU. Served through the cache when Redis
// is configured.
func (s *InventoryService) GetBySKU(ctx context.Context, sku string) (domain.Item, error) {
	item, err := s.items.GetBySKU(ctx, strings.TrimSpace(sku))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Item{}, newOAuthError(ErrCodeNotFound, "item not found", http.StatusNotFound)
		}
		return domain.Item{}, errServer("item lookup failed")
	}
	return item, nil
}

// Update replaces an item's fields.
func (s *InventoryService) Update(ctx context.Context, itemID int64, in ItemInput) (domain.Item, error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.Update")
	defer span.End()

	if err := validateItemInput(in); err != nil {
		return domain.Item{}, err
	}
	item, err := s.items.Update(ctx, domain.Item{
		ID:          itemID,
		SKU:         strings.TrimSpace(in.SKU),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Quantity:    in.Quantity,
		Price:       in.Price,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return domain.Item{}, newOAuthError(ErrCodeNotFound, "item not found", http.StatusNotFound)
		case errors.Is(err, repository.ErrDuplicate):
			return domain.Item{}, newOAuthError(ErrCodeConflict, "sku already exists", http.StatusConflict)
		}
		span.RecordError(err)
		return domain.Item{}, errServer("could not update item")
	}
	return item, nil
}

// Delete removes an item.
func (s *InventoryService) Delete(ctx context.Context, itemID int64) error {
	found, err := s.items.Delete(ctx, itemID)
	if err != nil {
		return errServer("could not delete item")
	}
	if !found {
		return newOAuthError(ErrCodeNotFound, "item not found", http.StatusNotFound)
	}
	s.logger.Info("item deleted", zap.Int64("item_id", itemID))
	return nil
}

// List returns a filtered, paginated page of items.
func (s *InventoryService) List(ctx context.Context, filter domain.ItemFilter) (ItemPage, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 {
		filter.PerPage = 15
	}
	if filter.PerPage > maxPerPage {
		filter.PerPage = maxPerPage
	}
	items, total, err := s.items.List(ctx, filter)
	if err != nil {
		return ItemPage{}, errServer("item listing failed")
	}
	if items == nil {
		items = []domain.Item{}
	}
	return ItemPage{Items: items, Total: total, Page: filter.Page, PerPage: filter.PerPage}, nil
}

// Adjust applies a stock movement. Operation is "add" or "subtract"; a
// subtract below zero fails without changing anything.
func (s *InventoryService) Adjust(ctx context.Context, itemID int64, operation string, amount int64) (domain.Item, error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.Adjust")
	defer span.End()

	if amount <= 0 {
		return domain.Item{}, newOAuthError(ErrCodeInvalidRequest, "amount must be positive", http.StatusBadRequest)
	}
	var delta int64
	switch operation {
	case "add":
		delta = amount
	case "subtract":
		delta = -amount
	default:
		return domain.Item{}, newOAuthError(ErrCodeInvalidRequest, "operation must be add or subtract", http.StatusBadRequest)
	}

	item, err := s.items.AdjustQuantity(ctx, itemID, delta)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return domain.Item{}, newOAuthError(ErrCodeNotFound, "item not found", http.StatusNotFound)
		case errors.Is(err, repository.ErrInsufficientStock):
			return domain.Item{}, newOAuthError(ErrCodeInsufficientStock, "insufficient stock for adjustment", http.StatusConflict)
		}
		span.RecordError(err)
		return domain.Item{}, errServer("could not adjust item")
	}
	s.logger.Info("stock adjusted",
		zap.Int64("item_id", itemID),
		zap.Int64("delta", delta),
		zap.Int64("quantity", item.Quantity))
	return item, nil
}

// LowStock lists items at or below the configured threshold.
func (s *InventoryService) LowStock(ctx context.Context) ([]domain.Item, error) {
	items, err := s.items.ListLowStock(ctx, s.cfg.LowStockThreshold)
	if err != nil {
		return nil, errServer("low stock listing failed")
	}
	if items == nil {
		items = []domain.Item{}
	}
	return items, nil
}

// BulkUpdate applies each update independently and reports per-item results.
// One failing entry never aborts the batch.
func (s *InventoryService) BulkUpdate(ctx context.Context, updates []BulkItemUpdate) []BulkResult {
	ctx, span := s.tracer.Start(ctx, "InventoryService.BulkUpdate")
	defer span.End()

	results := make([]BulkResult, 0, len(updates))
	for _, u := range updates {
		item, err := s.Update(ctx, u.ID, u.Item)
		if err != nil {
			results = append(results, BulkResult{ID: u.ID, OK: false, Error: err.Error()})
			continue
		}
		results = append(results, BulkResult{ID: u.ID, OK: true, Item: &item})
	}
	return results
}
