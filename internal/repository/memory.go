package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidemark/authd/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository    = (*MemoryUserRepo)(nil)
	_ ClientRepository  = (*MemoryClientRepo)(nil)
	_ CodeRepository    = (*MemoryCodeRepo)(nil)
	_ TokenRepository   = (*MemoryTokenRepo)(nil)
	_ SessionRepository = (*MemorySessionRepo)(nil)
	_ ItemRepository    = (*MemoryItemRepo)(nil)
)

// MemoryUserRepo is a mutex-guarded UserRepository for tests and local runs.
type MemoryUserRepo struct {
	mu    sync.Mutex
	users map[int64]domain.User
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[int64]domain.User)}
}

func (r *MemoryUserRepo) Create(_ context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return domain.User{}, ErrDuplicate
		}
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = user
	return user, nil
}

func (r *MemoryUserRepo) GetByEmail(_ context.Context, email string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return domain.User{}, ErrNotFound
}

func (r *MemoryUserRepo) GetByID(_ context.Context, userID int64) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return user, nil
}

// MemoryClientRepo is a mutex-guarded ClientRepository.
type MemoryClientRepo struct {
	mu      sync.Mutex
	clients map[string]domain.Client
}

func NewMemoryClientRepo() *MemoryClientRepo {
	return &MemoryClientRepo{clients: make(map[string]domain.Client)}
}

func (r *MemoryClientRepo) Create(_ context.Context, client domain.Client) (domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	client.CreatedAt = time.Now()
	r.clients[client.ID] = client
	return client, nil
}

func (r *MemoryClientRepo) Get(_ context.Context, clientID string) (domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.clients[clientID]
	if !ok {
		return domain.Client{}, ErrNotFound
	}
	return client, nil
}

func (r *MemoryClientRepo) List(_ context.Context) ([]domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Client, 0, len(r.clients))
	for _, client := range r.clients {
		out = append(out, client)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryClientRepo) Revoke(_ context.Context, clientID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.clients[clientID]
	if !ok {
		return false, nil
	}
	client.Revoked = true
	r.clients[clientID] = client
	return true, nil
}

// MemoryCodeRepo is a mutex-guarded CodeRepository.
type MemoryCodeRepo struct {
	mu    sync.Mutex
	codes map[string]domain.AuthorizationCode
}

func NewMemoryCodeRepo() *MemoryCodeRepo {
	return &MemoryCodeRepo{codes: make(map[string]domain.AuthorizationCode)}
}

func (r *MemoryCodeRepo) Create(_ context.Context, code domain.AuthorizationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	code.CreatedAt = time.Now()
	r.codes[code.ID] = code
	return nil
}

func (r *MemoryCodeRepo) Get(_ context.Context, codeID string) (domain.AuthorizationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.codes[codeID]
	if !ok {
		return domain.AuthorizationCode{}, ErrNotFound
	}
	return code, nil
}

func (r *MemoryCodeRepo) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, code := range r.codes {
		if code.ExpiresAt.Before(cutoff) {
			delete(r.codes, id)
			n++
		}
	}
	return n, nil
}

// consume flips a live code to revoked; used by MemoryTokenRepo.ExchangeCode.
func (r *MemoryCodeRepo) consume(codeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.codes[codeID]
	if !ok || !code.Live(time.Now()) {
		return false
	}
	code.Revoked = true
	r.codes[codeID] = code
	return true
}

// MemoryTokenRepo is a mutex-guarded TokenRepository. It needs the code repo
// so ExchangeCode can consume codes under the same semantics as Postgres.
type MemoryTokenRepo struct {
	mu      sync.Mutex
	access  map[string]domain.AccessToken
	refresh map[string]domain.RefreshToken
	codes   *MemoryCodeRepo
}

func NewMemoryTokenRepo(codes *MemoryCodeRepo) *MemoryTokenRepo {
	return &MemoryTokenRepo{
		access:  make(map[string]domain.AccessToken),
		refresh: make(map[string]domain.RefreshToken),
		codes:   codes,
	}
}

func (r *MemoryTokenRepo) CreatePair(_ context.Context, access domain.AccessToken, refresh domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertPairLocked(access, refresh)
	return nil
}

func (r *MemoryTokenRepo) CreateAccessToken(_ context.Context, access domain.AccessToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	access.CreatedAt = time.Now()
	r.access[access.ID] = access
	return nil
}

func (r *MemoryTokenRepo) GetAccessToken(_ context.Context, tokenID string) (domain.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.access[tokenID]
	if !ok {
		return domain.AccessToken{}, ErrNotFound
	}
	return token, nil
}

func (r *MemoryTokenRepo) GetRefreshToken(_ context.Context, tokenID string) (domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.refresh[tokenID]
	if !ok {
		return domain.RefreshToken{}, ErrNotFound
	}
	return token, nil
}

func (r *MemoryTokenRepo) RevokeAccessToken(_ context.Context, tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.access[tokenID]
	if !ok {
		return false, nil
	}
	token.Revoked = true
	r.access[tokenID] = token
	for id, rt := range r.refresh {
		if rt.AccessTokenID == tokenID {
			rt.Revoked = true
			r.refresh[id] = rt
		}
	}
	return true, nil
}

func (r *MemoryTokenRepo) ExchangeCode(_ context.Context, codeID string, access domain.AccessToken, refresh domain.RefreshToken) error {
	if r.codes == nil || !r.codes.consume(codeID) {
		return ErrConsumed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertPairLocked(access, refresh)
	return nil
}

func (r *MemoryTokenRepo) Rotate(_ context.Context, refreshTokenID string, access domain.AccessToken, refresh domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.refresh[refreshTokenID]
	if !ok || !old.Live(time.Now()) {
		return ErrConsumed
	}
	old.Revoked = true
	r.refresh[refreshTokenID] = old

	if oldAccess, ok := r.access[old.AccessTokenID]; ok {
		oldAccess.Revoked = true
		r.access[old.AccessTokenID] = oldAccess
	}

	r.insertPairLocked(access, refresh)
	return nil
}

func (r *MemoryTokenRepo) RevokeAllForUser(_ context.Context, userID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, token := range r.access {
		if token.UserID == nil || *token.UserID != userID {
			continue
		}
		if !token.Revoked {
			n++
		}
		token.Revoked = true
		r.access[id] = token
		for rid, rt := range r.refresh {
			if rt.AccessTokenID == id {
				rt.Revoked = true
				r.refresh[rid] = rt
			}
		}
	}
	return n, nil
}

func (r *MemoryTokenRepo) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, rt := range r.refresh {
		if rt.ExpiresAt.Before(cutoff) {
			delete(r.refresh, id)
			n++
		}
	}
	for id, at := range r.access {
		if !at.ExpiresAt.Before(cutoff) {
			continue
		}
		linked := false
		for _, rt := range r.refresh {
			if rt.AccessTokenID == id {
				linked = true
				break
			}
		}
		if !linked {
			delete(r.access, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryTokenRepo) insertPairLocked(access domain.AccessToken, refresh domain.RefreshToken) {
	now := time.Now()
	access.CreatedAt = now
	refresh.CreatedAt = now
	r.access[access.ID] = access
	r.refresh[refresh.ID] = refresh
}

// MemorySessionRepo is a mutex-guarded SessionRepository. It shares the token
// repo so Extend can revoke the replaced access token like the SQL version.
type MemorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.SessionToken
	tokens   *MemoryTokenRepo
}

func NewMemorySessionRepo(tokens *MemoryTokenRepo) *MemorySessionRepo {
	return &MemorySessionRepo{sessions: make(map[string]domain.SessionToken), tokens: tokens}
}

func (r *MemorySessionRepo) Create(_ context.Context, session domain.SessionToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session.CreatedAt = time.Now()
	r.sessions[session.Token] = session
	return nil
}

func (r *MemorySessionRepo) Get(_ context.Context, token string) (domain.SessionToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[token]
	if !ok {
		return domain.SessionToken{}, ErrNotFound
	}
	return session, nil
}

func (r *MemorySessionRepo) Extend(ctx context.Context, token, newAccessTokenID string, newExpiry time.Time) (domain.SessionToken, error) {
	r.mu.Lock()
	session, ok := r.sessions[token]
	if !ok || !session.Live(time.Now()) {
		r.mu.Unlock()
		return domain.SessionToken{}, ErrConsumed
	}
	oldAccessID := session.AccessTokenID
	session.AccessTokenID = newAccessTokenID
	session.ExpiresAt = newExpiry
	r.sessions[token] = session
	r.mu.Unlock()

	if r.tokens != nil && oldAccessID != "" && oldAccessID != newAccessTokenID {
		_, _ = r.tokens.RevokeAccessToken(ctx, oldAccessID)
	}
	return session, nil
}

func (r *MemorySessionRepo) RevokeByAccessTokenID(_ context.Context, accessTokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := false
	for token, session := range r.sessions {
		if session.AccessTokenID == accessTokenID {
			session.IsRevoked = true
			r.sessions[token] = session
			found = true
		}
	}
	return found, nil
}

func (r *MemorySessionRepo) RevokeAllForUser(_ context.Context, userID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for token, session := range r.sessions {
		if session.UserID != userID {
			continue
		}
		if !session.IsRevoked {
			n++
		}
		session.IsRevoked = true
		r.sessions[token] = session
	}
	return n, nil
}

func (r *MemorySessionRepo) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for token, session := range r.sessions {
		if session.ExpiresAt.Before(cutoff) {
			delete(r.sessions, token)
			n++
		}
	}
	return n, nil
}

// MemoryItemRepo is a mutex-guarded ItemRepository.
type MemoryItemRepo struct {
	mu    sync.Mutex
	items map[int64]domain.Item
}

func NewMemoryItemRepo() *MemoryItemRepo {
	return &MemoryItemRepo{items: make(map[int64]domain.Item)}
}

func (r *MemoryItemRepo) Create(_ context.Context, item domain.Item) (domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.SKU == item.SKU {
			return domain.Item{}, ErrDuplicate
		}
	}
	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now
	r.items[item.ID] = item
	return item, nil
}

func (r *MemoryItemRepo) Get(_ context.Context, itemID int64) (domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemID]
	if !ok {
		return domain.Item{}, ErrNotFound
	}
	return item, nil
}

func (r *MemoryItemRepo) GetBySKU(_ context.Context, sku string) (domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.SKU == sku {
			return item, nil
		}
	}
	return domain.Item{}, ErrNotFound
}

func (r *MemoryItemRepo) Update(_ context.Context, item domain.Item) (domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.items[item.ID]
	if !ok {
		return domain.Item{}, ErrNotFound
	}
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now()
	r.items[item.ID] = item
	return item, nil
}

func (r *MemoryItemRepo) Delete(_ context.Context, itemID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[itemID]; !ok {
		return false, nil
	}
	delete(r.items, itemID)
	return true, nil
}

func (r *MemoryItemRepo) List(_ context.Context, filter domain.ItemFilter) ([]domain.Item, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []domain.Item
	for _, item := range r.items {
		if filter.Name != "" && !strings.Contains(strings.ToLower(item.Name), strings.ToLower(filter.Name)) {
			continue
		}
		if filter.MinQuantity != nil && item.Quantity < *filter.MinQuantity {
			continue
		}
		if filter.MaxQuantity != nil && item.Quantity > *filter.MaxQuantity {
			continue
		}
		if filter.MinPrice != nil && item.Price < *filter.MinPrice {
			continue
		}
		if filter.MaxPrice != nil && item.Price > *filter.MaxPrice {
			continue
		}
		matched = append(matched, item)
	}

	asc := strings.EqualFold(filter.SortDirection, "asc")
	sort.Slice(matched, func(i, j int) bool {
		var less bool
		switch filter.SortBy {
		case "name":
			less = matched[i].Name < matched[j].Name
		case "sku":
			less = matched[i].SKU < matched[j].SKU
		case "quantity":
			less = matched[i].Quantity < matched[j].Quantity
		case "price":
			less = matched[i].Price < matched[j].Price
		default:
			less = matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		if asc {
			return less
		}
		return !less
	})

	total := int64(len(matched))
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 15
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + perPage
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *MemoryItemRepo) AdjustQuantity(_ context.Context, itemID, delta int64) (domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemID]
	if !ok {
		return domain.Item{}, ErrNotFound
	}
	if item.Quantity+delta < 0 {
		return domain.Item{}, ErrInsufficientStock
	}
	item.Quantity += delta
	item.UpdatedAt = time.Now()
	r.items[itemID] = item
	return item, nil
}

func (r *MemoryItemRepo) ListLowStock(_ context.Context, threshold int64) ([]domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Item
	for _, item := range r.items {
		if item.Quantity <= threshold {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Quantity < out[j].Quantity })
	return out, nil
}
