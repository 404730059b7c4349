package notifier

import (
	"fmt"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/gdg-garage/camp-registration-api/internal/config"
	"github.com/gdg-garage/camp-registration-api/internal/models"
)

// Notifier delivers fire-and-forget messages about registrations and
// accounts. Callers log failures and carry on.
type Notifier interface {
	NotifyRegistration(event models.Event, participant models.Participant, registration models.Registration, reason string) error
	NotifyAccount(user models.User, action string) error
}

// Account actions passed to NotifyAccount.
const (
	AccountCreated       = "created"
	AccountPasswordReset = "password_reset"
	AccountLocked        = "locked"
	AccountUnlocked      = "unlocked"
)

// channelSender is the part of *discordgo.Session the notifier uses.
type channelSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type DiscordNotifier struct {
	session   channelSender
	channelID string
}

func NewDiscordNotifier(cfg *config.Config) (*DiscordNotifier, error) {
	if cfg.DiscordBotToken == "" {
		return nil, fmt.Errorf("discord bot token is empty")
	}
	if cfg.DiscordNotificationsChannelID == "" {
		return nil, fmt.Errorf("discord channel ID is empty")
	}
	session, err := discordgo.New("Bot " + cfg.DiscordBotToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &DiscordNotifier{session: session, channelID: cfg.DiscordNotificationsChannelID}, nil
}

func (n *DiscordNotifier) NotifyRegistration(event models.Event, participant models.Participant, registration models.Registration, reason string) error {
	var status string
	switch registration.Status {
	case models.StatusConfirmed:
		status = "confirmed 🎉"
		if reason == "promoted" {
			status = "promoted from the waitlist 🎉"
		}
	case models.StatusWaitlist:
		status = "waitlisted ⏳"
	case models.StatusCancelled:
		status = "cancelled registration 😢"
	default:
		status = "registered"
	}

	foodStr := ""
	if participant.FoodRestrictions != "" {
		foodStr = fmt.Sprintf("\n**Food Restrictions:** %s", participant.FoodRestrictions)
	}

	message := fmt.Sprintf("**Registration Update**\n**Event:** %s\n**Participant:** %s\n**Status:** %s%s",
		event.Name,
		participant.FullName(),
		status,
		foodStr,
	)
	return n.send(message)
}

func (n *DiscordNotifier) NotifyAccount(user models.User, action string) error {
	message := fmt.Sprintf("**Account Update**\n**User:** %s (%s)\n**Action:** %s",
		user.FullName(), user.Email, strings.ReplaceAll(action, "_", " "))
	return n.send(message)
}

func (n *DiscordNotifier) send(message string) error {
	if n.session == nil {
		return fmt.Errorf("discord session is nil")
	}
	if _, err := n.session.ChannelMessageSend(n.channelID, message); err != nil {
		log.Printf("Failed to send discord message: %v", err)
		return err
	}
	return nil
}

// LogNotifier writes notifications to the process log. It is used when
// Discord is not configured.
type LogNotifier struct{}

func (LogNotifier) NotifyRegistration(event models.Event, participant models.Participant, registration models.Registration, reason string) error {
	log.Printf("registration %d for %q (%s) is %s (%s)", registration.ID, event.Name, participant.FullName(), registration.Status, reason)
	return nil
}

func (LogNotifier) NotifyAccount(user models.User, action string) error {
	log.Printf("account %d (%s): %s", user.ID, user.Email, action)
	return nil
}
