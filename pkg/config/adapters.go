package config

import (
	"fmt"

	"github.com/marmos91/afs/pkg/adapter"
	httpadapter "github.com/marmos91/afs/pkg/adapter/http"
)

// CreateAdapters creates all enabled protocol adapters from the configuration.
func CreateAdapters(cfg *Config) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.HTTP.Enabled {
		adapters = append(adapters, httpadapter.New(cfg.Adapters.HTTP))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
