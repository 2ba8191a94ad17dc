package cmd

import (
	"fmt"

	"github.com/tetherhq/tether/internal/channel"
	"github.com/tetherhq/tether/internal/channel/discord"
	"github.com/tetherhq/tether/internal/config"
	"github.com/tetherhq/tether/internal/engine"
	"github.com/tetherhq/tether/internal/store"
	"github.com/tetherhq/tether/internal/tracker"
	"github.com/tetherhq/tether/pkg/models"
)

// app bundles the wired components commands run against.
type app struct {
	cfg      *config.Config
	store    *store.Store
	trackers *tracker.ConfigFactory
	channel  channel.Adapter
	engine   *engine.Engine
}

// buildApp loads configuration and wires the store, adapters, and engine.
// Callers own closing the app.
func buildApp() (*app, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	discordClient, err := discord.NewClient(cfg.Discord.BotToken)
	if err != nil {
		st.Close()
		return nil, err
	}

	trackers := tracker.NewFactory(cfg)
	mappings := make([]models.Mapping, 0, len(cfg.Mappings))
	for _, m := range cfg.Mappings {
		mappings = append(mappings, m.Model())
	}

	return &app{
		cfg:      cfg,
		store:    st,
		trackers: trackers,
		channel:  discordClient,
		engine:   engine.New(mappings, trackers, discordClient, st),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
