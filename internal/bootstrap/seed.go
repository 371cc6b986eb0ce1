package bootstrap

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tidemark/authd/internal/config"
	"github.com/tidemark/authd/internal/domain"
	"github.com/tidemark/authd/internal/repository"
	"github.com/tidemark/authd/internal/service"
)

// EnsureSeedClients creates the first-party clients at startup if missing:
// a personal-access client backing the session flow and, when enabled, a
// password-grant client.
func EnsureSeedClients(lc fx.Lifecycle, cfg config.Config, clients repository.ClientRepository, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureSeedClients(ctx, cfg, clients, logger)
		},
	})
}

func ensureSeedClients(ctx context.Context, cfg config.Config, clients repository.ClientRepository, logger *zap.Logger) error {
	existing, err := clients.List(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap list clients: %w", err)
	}

	var havePersonal, havePassword bool
	for _, c := range existing {
		if c.Revoked {
			continue
		}
		if c.PersonalAccessClient {
			havePersonal = true
		}
		if c.PasswordClient {
			havePassword = true
		}
	}

	if !havePersonal {
		if err := seedClient(ctx, clients, "Personal Access Client", true, false, logger); err != nil {
			return err
		}
	}
	if !havePassword && cfg.SeedPasswordClient {
		if err := seedClient(ctx, clients, "Password Grant Client", false, true, logger); err != nil {
			return err
		}
	}
	return nil
}

func seedClient(ctx context.Context, clients repository.ClientRepository, name string, personal, password bool, logger *zap.Logger) error {
	secret, err := service.RandomClientSecret()
	if err != nil {
		return fmt.Errorf("bootstrap secret: %w", err)
	}
	client, err := clients.Create(ctx, domain.Client{
		ID:                   uuid.NewString(),
		Name:                 name,
		Secret:               secret,
		PersonalAccessClient: personal,
		PasswordClient:       password,
	})
	if err != nil {
		return fmt.Errorf("bootstrap create client %q: %w", name, err)
	}
	logger.Info("seeded oauth client",
		zap.String("client_id", client.ID),
		zap.String("name", client.Name))
	return nil
}
