// Package builtin registers the bundled metadata sources; it lives apart from
// package provider to avoid import cycles.
package builtin

import (
	"fmt"

	"github.com/Digital-Shane/reel-tidy/internal/config"
	"github.com/Digital-Shane/reel-tidy/internal/provider"
	"github.com/Digital-Shane/reel-tidy/internal/provider/omdb"
	"github.com/Digital-Shane/reel-tidy/internal/provider/tmdb"
	"github.com/Digital-Shane/reel-tidy/internal/provider/tvdb"
)

// Source priorities; candidates tie on popularity only within a source, so
// these only order the registry listing and the fan-out.
const (
	priorityTMDB = 100
	priorityTVDB = 80
	priorityOMDB = 60
)

// LoadBuiltinProviders registers TMDB, TVDB and OMDb into reg and enables the
// ones turned on in cfg.
func LoadBuiltinProviders(reg *provider.Registry, cfg *config.Config) error {
	sources := []struct {
		name     string
		p        provider.Provider
		priority int
		enabled  bool
		settings map[string]interface{}
	}{
		{"tmdb", tmdb.New(), priorityTMDB, cfg.EnableTMDB, map[string]interface{}{"api_key": cfg.TMDBAPIKey, "language": cfg.TMDBLanguage}},
		{"tvdb", tvdb.New(), priorityTVDB, cfg.EnableTVDB, map[string]interface{}{"api_key": cfg.TVDBAPIKey}},
		{"omdb", omdb.New(), priorityOMDB, cfg.EnableOMDB, map[string]interface{}{"api_key": cfg.OMDBAPIKey}},
	}

	for _, s := range sources {
		if err := reg.Register(s.name, s.p, s.priority); err != nil {
			return fmt.Errorf("failed to register %s provider: %w", s.name, err)
		}
		if !s.enabled {
			continue
		}
		if err := reg.Configure(s.name, s.settings); err != nil {
			return err
		}
		if err := reg.Enable(s.name); err != nil {
			return fmt.Errorf("failed to enable %s provider: %w", s.name, err)
		}
	}
	return nil
}
