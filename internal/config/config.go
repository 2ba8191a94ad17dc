// Package config provides centralized configuration management for the application.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/tetherhq/tether/pkg/models"
)

// Tracker connection types understood by the adapter factory.
const (
	ConnectionTypeNotion = "notion"
	ConnectionTypeJira   = "jira"
	ConnectionTypeGitHub = "github"
)

// Config holds all configuration parameters for the application.
type Config struct {
	Database    DatabaseConfig     `mapstructure:"database"`
	Discord     DiscordConfig      `mapstructure:"discord"`
	Server      ServerConfig       `mapstructure:"server"`
	Connections []ConnectionConfig `mapstructure:"connections"`
	Mappings    []MappingConfig    `mapstructure:"mappings"`
}

// DatabaseConfig selects the store backend by DSN scheme.
type DatabaseConfig struct {
	// DSN is a bare path or file: URL for SQLite, or a postgres:// URL.
	DSN string `mapstructure:"dsn"`
}

// DiscordConfig holds chat-platform credentials.
type DiscordConfig struct {
	// BotToken authenticates REST calls (post/edit/delete messages).
	BotToken string `mapstructure:"bot_token"`

	// PublicKey is the hex-encoded ed25519 key Discord signs interaction
	// requests with.
	PublicKey string `mapstructure:"public_key"`
}

// ServerConfig holds webhook server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`

	// AdminToken, when set, is required as a bearer token on the sync
	// trigger and operation-log endpoints.
	AdminToken string `mapstructure:"admin_token"`
}

// ConnectionConfig describes one tracker connection. Exactly one of the
// per-type sections is consulted, selected by Type.
type ConnectionConfig struct {
	ID   string `mapstructure:"id"`
	Type string `mapstructure:"type"`

	Notion NotionConfig `mapstructure:"notion"`
	Jira   JiraConfig   `mapstructure:"jira"`
	GitHub GitHubConfig `mapstructure:"github"`
}

// NotionConfig holds Notion specific configuration.
type NotionConfig struct {
	Token      string `mapstructure:"token"`
	DatabaseID string `mapstructure:"database_id"`
}

// JiraConfig holds JIRA specific configuration.
type JiraConfig struct {
	URL        string `mapstructure:"url"`
	Username   string `mapstructure:"username"`
	Token      string `mapstructure:"token"`
	ProjectKey string `mapstructure:"project_key"`
}

// GitHubConfig holds GitHub specific configuration.
type GitHubConfig struct {
	Token string `mapstructure:"token"`

	// Repository in "owner/repo" form.
	Repository string `mapstructure:"repository"`

	// Domain overrides github.com for GitHub Enterprise.
	Domain string `mapstructure:"domain"`
}

// MappingConfig is the on-disk form of a mapping.
type MappingConfig struct {
	ID            string `mapstructure:"id"`
	Connection    string `mapstructure:"connection"`
	Channel       string `mapstructure:"channel"`
	ProjectFilter string `mapstructure:"project_filter"`
	Active        bool   `mapstructure:"active"`
}

// Model converts the on-disk mapping into the engine's model.
func (m MappingConfig) Model() models.Mapping {
	filter := m.ProjectFilter
	if filter == "" {
		filter = models.ProjectAll
	}
	return models.Mapping{
		ID:            m.ID,
		ConnectionID:  m.Connection,
		ChannelID:     m.Channel,
		ProjectFilter: filter,
		Active:        m.Active,
	}
}

// LoadConfig reads configuration from the given file (optional) and the
// environment. Environment variables override file values for credentials
// and server settings; connections and mappings come from the file.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TETHER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Map specific environment variables
	v.BindEnv("database.dsn", "TETHER_DATABASE_DSN")
	v.BindEnv("discord.bot_token", "TETHER_DISCORD_BOT_TOKEN")
	v.BindEnv("discord.public_key", "TETHER_DISCORD_PUBLIC_KEY")
	v.BindEnv("server.addr", "TETHER_SERVER_ADDR")
	v.BindEnv("server.admin_token", "TETHER_SERVER_ADMIN_TOKEN")

	v.SetDefault("database.dsn", "tether.db")
	v.SetDefault("server.addr", ":8090")

	if path == "" {
		path = os.Getenv("TETHER_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("tether")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/tether")
		if err := v.ReadInConfig(); err != nil {
			// A config file is optional; everything can come from env.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Connection returns the connection with the given id.
func (c *Config) Connection(id string) (ConnectionConfig, bool) {
	for _, conn := range c.Connections {
		if conn.ID == id {
			return conn, true
		}
	}
	return ConnectionConfig{}, false
}

// ActiveMappings returns the mappings that participate in reconciliation.
func (c *Config) ActiveMappings() []models.Mapping {
	var active []models.Mapping
	for _, m := range c.Mappings {
		if m.Active {
			active = append(active, m.Model())
		}
	}
	return active
}

// Mapping returns the mapping with the given id.
func (c *Config) Mapping(id string) (models.Mapping, bool) {
	for _, m := range c.Mappings {
		if m.ID == id {
			return m.Model(), true
		}
	}
	return models.Mapping{}, false
}

// validateConfig ensures that connections and mappings are well formed.
func validateConfig(config *Config) error {
	seenConnections := map[string]bool{}
	for i, conn := range config.Connections {
		if conn.ID == "" {
			return fmt.Errorf("connection %d: missing id", i)
		}
		if seenConnections[conn.ID] {
			return fmt.Errorf("duplicate connection id: %s", conn.ID)
		}
		seenConnections[conn.ID] = true

		switch conn.Type {
		case ConnectionTypeNotion, ConnectionTypeJira, ConnectionTypeGitHub:
		default:
			return fmt.Errorf("connection %s: unknown type %q", conn.ID, conn.Type)
		}
	}

	seenMappings := map[string]bool{}
	seenTriples := map[string]bool{}
	for i, m := range config.Mappings {
		if m.ID == "" {
			return fmt.Errorf("mapping %d: missing id", i)
		}
		if seenMappings[m.ID] {
			return fmt.Errorf("duplicate mapping id: %s", m.ID)
		}
		seenMappings[m.ID] = true

		if m.Connection == "" || m.Channel == "" {
			return fmt.Errorf("mapping %s: connection and channel are required", m.ID)
		}
		if !seenConnections[m.Connection] {
			return fmt.Errorf("mapping %s: unknown connection %q", m.ID, m.Connection)
		}

		// At most one mapping per (connection, channel, filter) triple.
		triple := m.Connection + "\x00" + m.Channel + "\x00" + m.Model().ProjectFilter
		if seenTriples[triple] {
			return fmt.Errorf("mapping %s: duplicate connection/channel/filter combination", m.ID)
		}
		seenTriples[triple] = true
	}

	return nil
}

// ValidateConnection checks that a connection carries the credentials its
// type needs. Called before an adapter is constructed so failures name the
// missing field rather than surfacing as an API error.
func ValidateConnection(conn ConnectionConfig) error {
	var missing []string
	switch conn.Type {
	case ConnectionTypeNotion:
		if conn.Notion.Token == "" {
			missing = append(missing, "notion.token")
		}
		if conn.Notion.DatabaseID == "" {
			missing = append(missing, "notion.database_id")
		}
	case ConnectionTypeJira:
		if conn.Jira.URL == "" {
			missing = append(missing, "jira.url")
		}
		if conn.Jira.Username == "" {
			missing = append(missing, "jira.username")
		}
		if conn.Jira.Token == "" {
			missing = append(missing, "jira.token")
		}
		if conn.Jira.ProjectKey == "" {
			missing = append(missing, "jira.project_key")
		}
	case ConnectionTypeGitHub:
		if conn.GitHub.Token == "" {
			missing = append(missing, "github.token")
		}
		if conn.GitHub.Repository == "" {
			missing = append(missing, "github.repository")
		}
	default:
		return fmt.Errorf("connection %s: unknown type %q", conn.ID, conn.Type)
	}

	if len(missing) > 0 {
		return fmt.Errorf("connection %s: missing required fields: %v", conn.ID, missing)
	}
	return nil
}
