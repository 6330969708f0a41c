// Package usecases contains application business rules.
// Clean Architecture: Usecases orchestrate entities and depend on port interfaces.
// They contain NO framework code, NO external dependencies - just pure business logic.
package usecases

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/safebites/menuquery/internal/domain/ports"
)

// ReindexUseCase rebuilds the vector index from the catalog. It also
// watches the catalog file so an updated menu export is picked up
// without a restart.
type ReindexUseCase struct {
	catalog ports.CatalogSource
	index   ports.VectorIndex
	watcher ports.FileWatcher
	logger  *zap.Logger
}

// NewReindexUseCase creates a ReindexUseCase with injected dependencies.
func NewReindexUseCase(
	catalog ports.CatalogSource,
	index ports.VectorIndex,
	watcher ports.FileWatcher,
	logger *zap.Logger,
) *ReindexUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReindexUseCase{
		catalog: catalog,
		index:   index,
		watcher: watcher,
		logger:  logger,
	}
}

// Rebuild loads the catalog and builds a fresh index. The swap is
// atomic: searches in flight keep their snapshot.
func (uc *ReindexUseCase) Rebuild(ctx context.Context) error {
	items, err := uc.catalog.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	if err := uc.index.Build(ctx, items); err != nil {
		return fmt.Errorf("building index: %w", err)
	}
	uc.logger.Info("index rebuilt", zap.Int("items", len(items)))
	return nil
}

// WatchCatalog rebuilds whenever the catalog file under dir changes.
// Blocks until ctx is done; rebuild failures are logged, not fatal,
// since the previous snapshot stays valid.
func (uc *ReindexUseCase) WatchCatalog(ctx context.Context, dir, catalogFile string) error {
	if uc.watcher == nil {
		return nil
	}
	events, err := uc.watcher.Watch(ctx, dir)
	if err != nil {
		return fmt.Errorf("watching catalog dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Operation == ports.FileDeleted {
				continue
			}
			if catalogFile != "" && filepath.Base(ev.Path) != filepath.Base(catalogFile) {
				continue
			}
			uc.logger.Info("catalog changed, rebuilding index", zap.String("path", ev.Path))
			if err := uc.Rebuild(ctx); err != nil {
				uc.logger.Error("rebuild after catalog change failed", zap.Error(err))
			}
		}
	}
}
