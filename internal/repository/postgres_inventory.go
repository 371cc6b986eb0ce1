package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidemark/authd/internal/domain"
)

var _ ItemRepository = (*PostgresItemRepo)(nil)

// PostgresItemRepo implements ItemRepository.
type PostgresItemRepo struct {
	db *pgxpool.Pool
}

func NewPostgresItemRepo(db *pgxpool.Pool) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

const itemColumns = `id, sku, name, description, quantity, price, created_at, updated_at`

func (r *PostgresItemRepo) Create(ctx context.Context, item domain.Item) (domain.Item, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO inventory_items (id, sku, name, description, quantity, price)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+itemColumns,
		item.ID, item.SKU, item.Name, item.Description, item.Quantity, item.Price,
	)
	out, err := scanItem(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Item{}, ErrDuplicate
		}
		return domain.Item{}, fmt.Errorf("create item: %w", err)
	}
	return out, nil
}

func (r *PostgresItemRepo) Get(ctx context.Context, itemID int64) (domain.Item, error) {
	row := r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = $1`, itemID)
	out, err := scanItem(row)
	if err != nil {
		return domain.Item{}, fmt.Errorf("get item: %w", mapNoRows(err))
	}
	return out, nil
}

func (r *PostgresItemRepo) GetBySKU(ctx context.Context, sku string) (domain.Item, error) {
	row := r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE sku = $1`, sku)
	out, err := scanItem(row)
	if err != nil {
		return domain.Item{}, fmt.Errorf("get item by sku: %w", mapNoRows(err))
	}
	return out, nil
}

func (r *PostgresItemRepo) Update(ctx context.Context, item domain.Item) (domain.Item, error) {
	row := r.db.QueryRow(ctx, `UPDATE inventory_items
SET sku = $2, name = $3, description = $4, quantity = $5, price = $6, updated_at = now()
WHERE id = $1
RETURNING `+itemColumns,
		item.ID, item.SKU, item.Name, item.Description, item.Quantity, item.Price,
	)
	out, err := scanItem(row)
	if err != nil {
		return domain.Item{}, fmt.Errorf("update item: %w", mapNoRows(err))
	}
	return out, nil
}

func (r *PostgresItemRepo) Delete(ctx context.Context, itemID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM inventory_items WHERE id = $1`, itemID)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

var itemSortColumns = map[string]string{
	"name":       "name",
	"sku":        "sku",
	"quantity":   "quantity",
	"price":      "price",
	"created_at": "created_at",
}

func (r *PostgresItemRepo) List(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, int64, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Name != "" {
		where = append(where, "name ILIKE "+arg("%"+filter.Name+"%"))
	}
	if filter.MinQuantity != nil {
		where = append(where, "quantity >= "+arg(*filter.MinQuantity))
	}
	if filter.MaxQuantity != nil {
		where = append(where, "quantity <= "+arg(*filter.MaxQuantity))
	}
	if filter.MinPrice != nil {
		where = append(where, "price >= "+arg(*filter.MinPrice))
	}
	if filter.MaxPrice != nil {
		where = append(where, "price <= "+arg(*filter.MaxPrice))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM inventory_items`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	sortBy, ok := itemSortColumns[filter.SortBy]
	if !ok {
		sortBy = "created_at"
	}
	direction := "DESC"
	if strings.EqualFold(filter.SortDirection, "asc") {
		direction = "ASC"
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 15
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	query := fmt.Sprintf(`SELECT %s FROM inventory_items%s ORDER BY %s %s LIMIT %s OFFSET %s`,
		itemColumns, clause, sortBy, direction, arg(perPage), arg((page-1)*perPage))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

func (r *PostgresItemRepo) AdjustQuantity(ctx context.Context, itemID, delta int64) (domain.Item, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.Item{}, fmt.Errorf("begin adjust: %w", err)
	}
	defer tx.Rollback(ctx)

	// Read-modify-write under a row lock, never a blind write.
	var quantity int64
	err = tx.QueryRow(ctx, `SELECT quantity FROM inventory_items WHERE id = $1 FOR UPDATE`, itemID).Scan(&quantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Item{}, ErrNotFound
		}
		return domain.Item{}, fmt.Errorf("lock item: %w", err)
	}
	if quantity+delta < 0 {
		return domain.Item{}, ErrInsufficientStock
	}

	row := tx.QueryRow(ctx, `UPDATE inventory_items SET quantity = quantity + $2, updated_at = now()
WHERE id = $1
RETURNING `+itemColumns, itemID, delta)
	out, err := scanItem(row)
	if err != nil {
		return domain.Item{}, fmt.Errorf("adjust item: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Item{}, fmt.Errorf("commit adjust: %w", err)
	}
	return out, nil
}

func (r *PostgresItemRepo) ListLowStock(ctx context.Context, threshold int64) ([]domain.Item, error) {
	rows, err := r.db.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items
WHERE quantity <= $1 ORDER BY quantity ASC`, threshold)
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(row pgx.Row) (domain.Item, error) {
	var out domain.Item
	err := row.Scan(&out.ID, &out.SKU, &out.Name, &out.Description, &out.Quantity,
		&out.Price, &out.CreatedAt, &out.UpdatedAt)
	return out, err
}
