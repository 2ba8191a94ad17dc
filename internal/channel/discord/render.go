package discord

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/tetherhq/tether/internal/action"
	"github.com/tetherhq/tether/pkg/models"
)

// Discord API limits.
const (
	maxEmbedTitle       = 256
	maxEmbedDescription = 2048
	maxAttachmentLinks  = 5
)

// Embed accent color per severity, defaulting to Discord blurple.
var severityColors = map[string]int{
	"critical": 0xE74C3C,
	"highest":  0xE74C3C,
	"high":     0xE67E22,
	"medium":   0xF1C40F,
	"low":      0x2ECC71,
	"lowest":   0x2ECC71,
}

const defaultColor = 0x5865F2

// renderEmbed turns a record into the single embed carried by its message.
func renderEmbed(record models.Record) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       truncate(record.Title, maxEmbedTitle),
		Description: truncate(record.Description, maxEmbedDescription),
		URL:         record.SourceURL,
		Color:       severityColor(record.Severity),
	}

	if record.Project != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Project",
			Value:  record.Project,
			Inline: true,
		})
	}
	if record.Severity != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Severity",
			Value:  record.Severity,
			Inline: true,
		})
	}
	if len(record.Attachments) > 0 {
		links := make([]string, 0, maxAttachmentLinks)
		for i, url := range record.Attachments {
			if i == maxAttachmentLinks {
				links = append(links, fmt.Sprintf("…and %d more", len(record.Attachments)-maxAttachmentLinks))
				break
			}
			links = append(links, url)
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Attachments",
			Value: strings.Join(links, "\n"),
		})
	}
	return embed
}

// renderComponents builds the action row with the resolve button. The
// button's custom id is the opaque action token the webhook parses back.
func renderComponents(connectionID string, record models.Record) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Mark resolved",
					Style:    discordgo.SuccessButton,
					CustomID: action.ResolveToken(connectionID, record.ID),
				},
			},
		},
	}
}

func severityColor(severity string) int {
	if color, ok := severityColors[strings.ToLower(strings.TrimSpace(severity))]; ok {
		return color
	}
	return defaultColor
}

// truncate limits s to Discord's character limits, which count runes.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
