package app

import (
	"fmt"

	"restorebot/internal/config"
	"restorebot/internal/storage"
	logx "restorebot/pkg/logx"
)

// OpenStore loads cfgPath and opens its store without starting the bot.
// The CLI uses it for offline maintenance; the caller closes the store.
func OpenStore(cfgPath string, log logx.Logger) (storage.Store, *config.Config, error) {
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return nil, nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	if sc.Driver == "memory" {
		return nil, nil, fmt.Errorf("storage.driver %q has nothing to inspect offline", sc.Driver)
	}
	st, err := storage.Open(sc, log)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	return st, cfg, nil
}
