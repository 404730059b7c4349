package notifier

import (
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/gdg-garage/camp-registration-api/internal/config"
	"github.com/gdg-garage/camp-registration-api/internal/models"
)

type fakeSender struct {
	channel  string
	messages []string
	err      error
}

func (f *fakeSender) ChannelMessageSend(channelID string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.channel = channelID
	f.messages = append(f.messages, content)
	return &discordgo.Message{Content: content}, nil
}

func TestNotifyRegistration(t *testing.T) {
	sender := &fakeSender{}
	n := &DiscordNotifier{session: sender, channelID: "chan-1"}

	event := models.Event{Name: "Summer Camp"}
	participant := models.Participant{FirstName: "Ada", LastName: "Lovelace", FoodRestrictions: "No peanuts"}
	reg := models.Registration{ID: 7, Status: models.StatusConfirmed}

	if err := n.NotifyRegistration(event, participant, reg, "promoted"); err != nil {
		t.Fatalf("NotifyRegistration returned error: %v", err)
	}

	if sender.channel != "chan-1" {
		t.Errorf("expected channel chan-1, got %s", sender.channel)
	}
	msg := sender.messages[0]
	for _, want := range []string{"Summer Camp", "Ada Lovelace", "promoted from the waitlist", "No peanuts"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected message to contain %q, got %q", want, msg)
		}
	}
}

func TestNotifyAccount_SendError(t *testing.T) {
	n := &DiscordNotifier{session: &fakeSender{err: errors.New("discord down")}, channelID: "chan-1"}

	err := n.NotifyAccount(models.User{Email: "a@example.com"}, AccountPasswordReset)
	if err == nil {
		t.Fatal("expected error from failing sender, got nil")
	}
}

func TestNewDiscordNotifier_RequiresConfig(t *testing.T) {
	if _, err := NewDiscordNotifier(&config.Config{}); err == nil {
		t.Error("expected error without bot token")
	}
	if _, err := NewDiscordNotifier(&config.Config{DiscordBotToken: "token"}); err == nil {
		t.Error("expected error without channel id")
	}
}
