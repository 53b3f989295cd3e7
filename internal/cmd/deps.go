package cmd

import (
	"context"

	"github.com/dotcommander/groksearch/internal/config"
	"github.com/dotcommander/groksearch/internal/errs"
	"github.com/dotcommander/groksearch/internal/models"
	"github.com/dotcommander/groksearch/internal/search"
	"github.com/dotcommander/groksearch/internal/storage"
	"github.com/dotcommander/groksearch/internal/tokens"
	"github.com/dotcommander/groksearch/internal/upstream"
)

type tokenStore interface {
	tokens.Store
	Close() error
}

func openStore(ctx context.Context, cfg config.Tokens) (tokenStore, error) {
	switch cfg.Store {
	case config.StoreRedis:
		rdb, err := storage.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, errs.Error{Err: err, Reason: "Could not connect to the redis token store."}
		}
		return rdb, nil
	default:
		db, err := storage.Open(cfg.Path)
		if err != nil {
			return nil, errs.Error{Err: err, Reason: "Could not open the token store."}
		}
		return db, nil
	}
}

// openManager opens the configured store and loads the token pool. The
// returned func closes the store.
func (rt *runtime) openManager(ctx context.Context) (*tokens.Manager, func(), error) {
	if rt.cfgErr != nil {
		return nil, nil, rt.cfgErr
	}
	if err := rt.cfg.Validate(); err != nil {
		return nil, nil, err
	}
	store, err := openStore(ctx, rt.cfg.Tokens)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() { _ = store.Close() }

	mgr := tokens.NewManager(store, rt.cfg.Tokens, rt.log)
	if err := mgr.Reload(ctx); err != nil {
		closeStore()
		return nil, nil, errs.Error{Err: err, Reason: "Could not load tokens."}
	}
	return mgr, closeStore, nil
}

func (rt *runtime) newSearchService(pool search.TokenPool) (*search.Service, error) {
	chat, err := upstream.New(rt.cfg.Upstream, rt.cfg.Timeout)
	if err != nil {
		return nil, errs.Error{Err: err, Reason: "Invalid upstream settings."}
	}
	return search.New(
		models.New(rt.cfg.Models),
		pool,
		chat,
		search.WithLogger(rt.log),
		search.WithDefaultModel(rt.cfg.MCP.Model),
		search.WithIdleTimeout(rt.cfg.Timeout.StreamIdle),
	), nil
}
