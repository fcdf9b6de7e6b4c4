package discord_notifier

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"diffusion_sweeper/entities"

	"github.com/bwmarrin/discordgo"
)

// Discord rejects messages longer than this.
const maxMessageLength = 2000

const maxListedFailures = 10

type notifierImpl struct {
	botSession *discordgo.Session
	channelID  string
}

type Config struct {
	BotToken  string
	ChannelID string
}

// New prepares a REST-only session; no gateway connection is opened since
// the notifier never listens for events.
func New(cfg Config) (Notifier, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("missing bot token")
	}

	if cfg.ChannelID == "" {
		return nil, errors.New("missing channel ID")
	}

	botSession, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, err
	}

	return &notifierImpl{
		botSession: botSession,
		channelID:  cfg.ChannelID,
	}, nil
}

func (n *notifierImpl) Notify(summary *entities.SweepSummary) error {
	message := &discordgo.MessageSend{
		Content: summaryMessage(summary),
	}

	if summary.ContactSheetPath != "" {
		sheet, err := os.Open(summary.ContactSheetPath)
		if err != nil {
			log.Printf("Error opening contact sheet %s: %v", summary.ContactSheetPath, err)
		} else {
			defer sheet.Close()

			message.Files = []*discordgo.File{
				{
					Name:        filepath.Base(summary.ContactSheetPath),
					ContentType: "image/png",
					Reader:      sheet,
				},
			}
		}
	}

	_, err := n.botSession.ChannelMessageSendComplex(n.channelID, message)
	if err != nil {
		return fmt.Errorf("sending sweep summary: %w", err)
	}

	return nil
}

func summaryMessage(summary *entities.SweepSummary) string {
	var b strings.Builder

	status := "finished"

	switch {
	case summary.Aborted:
		status = "aborted"
	case len(summary.Failures) > 0:
		status = "finished with errors"
	}

	fmt.Fprintf(&b, "Sweep `%s` %s in %s.\n", summary.SweepID, status, summary.Duration.Round(time.Second))
	fmt.Fprintf(&b, "Model: `%s`\nPrompt: \"%s\"\n", summary.ModelID, summary.Prompt)
	fmt.Fprintf(&b, "Output: `%s`\n", summary.OutputDir)
	fmt.Fprintf(&b, "Written: %d, skipped: %d, failed: %d", summary.Written, summary.Skipped, len(summary.Failures))

	for i, failure := range summary.Failures {
		if i == maxListedFailures {
			fmt.Fprintf(&b, "\n...and %d more", len(summary.Failures)-maxListedFailures)

			break
		}

		fmt.Fprintf(&b, "\n- seed %d: %s", failure.Seed, failure.Message)
	}

	content := b.String()

	if len(content) > maxMessageLength {
		content = truncateUTF8(content, maxMessageLength-3) + "..."
	}

	return content
}

func truncateUTF8(s string, limit int) string {
	for limit > 0 && limit < len(s) && !isRuneStart(s[limit]) {
		limit--
	}

	return s[:limit]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
