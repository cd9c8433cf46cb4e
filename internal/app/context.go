package app

import (
	"context"
	"errors"
	"fmt"

	"gigline/internal/config"
	"gigline/internal/repo"
)

const defaultMarketplaceID = "gigline"

// ResolveMarketplaceConfig picks the active marketplace configuration.
// A gigline.yml in the workspace wins and is mirrored into the DB;
// otherwise the stored config is used, seeding the defaults on first
// run.
func ResolveMarketplaceConfig(ctx context.Context, workspace, override string, r repo.Repo) (string, *config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	if fileCfg != nil {
		id := fileCfg.Marketplace.ID
		if override != "" {
			id = override
			fileCfg.Marketplace.ID = override
		}
		if err := r.UpsertMarketplaceConfig(ctx, id, fileCfg); err != nil {
			return "", nil, fmt.Errorf("store config: %w", err)
		}
		return id, fileCfg, nil
	}

	id := override
	if id == "" {
		id = defaultMarketplaceID
	}
	cfg, err := r.GetMarketplaceConfig(ctx, id)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		cfg = config.Default(id)
		if err := r.UpsertMarketplaceConfig(ctx, id, cfg); err != nil {
			return "", nil, fmt.Errorf("seed config: %w", err)
		}
	}
	return id, cfg, nil
}
