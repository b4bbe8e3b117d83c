package vectorstore

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kkzk/remindmine/internal/config"
)

// NewStore opens the store selected by cfg.VectorStore.Provider.
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.VectorStore.Provider {
	case config.StoreChromem, "":
		return NewChromemStore(ChromemConfig{
			Path:            cfg.VectorStore.Path,
			Compress:        cfg.VectorStore.Compress,
			TagRegistryPath: cfg.TagRegistryPath(),
		}, logger)
	case config.StoreQdrant:
		return NewQdrantStore(QdrantConfig{
			Host:            cfg.Qdrant.Host,
			Port:            cfg.Qdrant.Port,
			UseTLS:          cfg.Qdrant.UseTLS,
			APIKey:          cfg.Qdrant.APIKey.Value(),
			TagRegistryPath: cfg.TagRegistryPath(),
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown vector store provider %q", ErrInvalidConfig, cfg.VectorStore.Provider)
	}
}
