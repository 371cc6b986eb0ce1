package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tidemark/authd/internal/domain"
	"github.com/tidemark/authd/internal/repository"
)

const clientSecretBytes = 20

// RandomClientSecret returns a generated confidential client secret.
func RandomClientSecret() (string, error) {
	return randomToken(clientSecretBytes)
}

// CreateClientInput describes a client registration request. Secret is
// optional; a confidential client without one gets a generated secret.
type CreateClientInput struct {
	Name                 string
	RedirectURI          string
	Secret               string
	Public               bool
	PasswordClient       bool
	PersonalAccessClient bool
	UserID               *int64
}

// ClientService manages the registry of OAuth clients.
type ClientService struct {
	clients repository.ClientRepository
	logger  *zap.Logger
}

// NewClientService wires dependencies.
func NewClientService(clients repository.ClientRepository, logger *zap.Logger) *ClientService {
	return &ClientService{clients: clients, logger: logger}
}

// Create registers a client. Confidential clients keep the supplied secret or
// get a generated one, returned exactly once in the create response.
func (s *ClientService) Create(ctx context.Context, in CreateClientInput) (domain.Client, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Client{}, newOAuthError(ErrCodeInvalidRequest, "client name is required", http.StatusBadRequest)
	}

	client := domain.Client{
		ID:                   uuid.NewString(),
		UserID:               in.UserID,
		Name:                 name,
		RedirectURI:          strings.TrimSpace(in.RedirectURI),
		PersonalAccessClient: in.PersonalAccessClient,
		PasswordClient:       in.PasswordClient,
	}
	if !in.Public {
		secret := strings.TrimSpace(in.Secret)
		if secret == "" {
			var err error
			secret, err = randomToken(clientSecretBytes)
			if err != nil {
				return domain.Client{}, errServer("could not generate client secret")
			}
		}
		client.Secret = secret
	}

	out, err := s.clients.Create(ctx, client)
	if err != nil {
		return domain.Client{}, errServer("could not persist client")
	}
	s.logger.Info("client registered",
		zap.String("client_id", out.ID),
		zap.String("name", out.Name),
		zap.Bool("confidential", out.Confidential()))
	return out, nil
}

// Get fetches a client by id.
func (s *ClientService) Get(ctx context.Context, clientID string) (domain.Client, error) {
	client, err := s.clients.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Client{}, newOAuthError(ErrCodeNotFound, "client not found", http.StatusNotFound)
		}
		return domain.Client{}, errServer("client lookup failed")
	}
	return client, nil
}

// List returns every registered client.
func (s *ClientService) List(ctx context.Context) ([]domain.Client, error) {
	clients, err := s.clients.List(ctx)
	if err != nil {
		return nil, errServer("client listing failed")
	}
	return clients, nil
}

// Authenticate resolves the client and checks its secret in constant time.
// Public clients authenticate with an empty secret. Unknown clients, revoked
// clients, and wrong secrets all return the same invalid_client.
func (s *ClientService) Authenticate(ctx context.Context, clientID, secret string) (domain.Client, error) {
	client, err := s.clients.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Client{}, errInvalidClient()
		}
		return domain.Client{}, errServer("client lookup failed")
	}
	if client.Revoked {
		return domain.Client{}, errInvalidClient()
	}
	if client.Confidential() {
		if subtle.ConstantTimeCompare([]byte(secret), []byte(client.Secret)) != 1 {
			return domain.Client{}, errInvalidClient()
		}
	} else if secret != "" {
		return domain.Client{}, errInvalidClient()
	}
	return client, nil
}

// AuthorizedForGrant reports whether the client may use the grant type.
func (s *ClientService) AuthorizedForGrant(client domain.Client, grant GrantType) bool {
	if client.Revoked {
		return false
	}
	if grant == GrantPassword {
		return client.PasswordClient
	}
	return true
}

// Revoke disables a client for future grants. Tokens the client already
// issued stay live until they expire or are revoked individually.
func (s *ClientService) Revoke(ctx context.Context, clientID string) error {
	found, err := s.clients.Revoke(ctx, clientID)
	if err != nil {
		return errServer("client revocation failed")
	}
	if !found {
		return newOAuthError(ErrCodeNotFound, "client not found", http.StatusNotFound)
	}
	s.logger.Info("client revoked", zap.String("client_id", clientID))
	return nil
}
