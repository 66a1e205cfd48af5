// Package notify delivers fired price alerts.
package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"torn-market-tracker/internal/alerts"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

const (
	colorBelow = 0x2ECC71
	colorAbove = 0xFFA500
	footerText = "Torn Market Tracker"
)

// Discord posts alerts to a Discord webhook.
type Discord struct {
	session *discordgo.Session
	id      string
	token   string
}

// NewDiscord parses a webhook URL of the form
// https://discord.com/api/webhooks/{id}/{token}.
func NewDiscord(webhookURL string) (*Discord, error) {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	// webhooks need no bot token
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Client.Timeout = 10 * time.Second
	return &Discord{session: session, id: id, token: token}, nil
}

func parseWebhookURL(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("invalid webhook url: missing id or token")
}

func (d *Discord) Notify(ctx context.Context, n alerts.Notification) error {
	params := &discordgo.WebhookParams{
		Content: Summary(n),
		Embeds:  []*discordgo.MessageEmbed{Embed(n)},
	}
	if _, err := d.session.WebhookExecute(d.id, d.token, false, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	log.Debug().Uint("alert_id", n.AlertID).Int64("item_id", n.ItemID).Msg("Alert sent to Discord")
	return nil
}

// Log writes alerts to the application log. Used when no webhook is set.
type Log struct{}

func (Log) Notify(_ context.Context, n alerts.Notification) error {
	ev := log.Info().
		Uint("alert_id", n.AlertID).
		Int64("item_id", n.ItemID).
		Str("item", n.ItemName).
		Int64("price", n.Price).
		Str("source", n.Source).
		Str("condition", string(n.Condition)).
		Int64("target", n.TargetPrice)
	if n.SellerID != nil {
		ev = ev.Int64("seller_id", *n.SellerID)
	}
	ev.Msg("Price alert")
	return nil
}

// Summary is the one-line text of a notification.
func Summary(n alerts.Notification) string {
	return fmt.Sprintf("**%s** is %s $%s at $%s (%s)",
		n.ItemName, n.Condition, formatMoney(n.TargetPrice), formatMoney(n.Price), n.Source)
}

// Embed renders a notification as a Discord embed. Bazaar hits link to the
// seller's bazaar, everything else to the item market page.
func Embed(n alerts.Notification) *discordgo.MessageEmbed {
	link := fmt.Sprintf("https://www.torn.com/page.php?sid=ItemMarket#/market/view=search&itemID=%d", n.ItemID)
	if n.SellerID != nil && n.Source == "bazaar" {
		link = fmt.Sprintf("https://www.torn.com/bazaar.php?userId=%d#/", *n.SellerID)
	}
	color := colorAbove
	if n.Condition == "below" {
		color = colorBelow
	}
	kind := "one-shot"
	if n.Recurring {
		kind = "recurring"
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Price", Value: "$" + formatMoney(n.Price), Inline: true},
		{Name: "Source", Value: n.Source, Inline: true},
		{Name: "Trigger", Value: fmt.Sprintf("%s $%s", n.Condition, formatMoney(n.TargetPrice)), Inline: true},
		{Name: "Alert", Value: fmt.Sprintf("#%d (%s)", n.AlertID, kind), Inline: true},
	}
	if n.SellerID != nil {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Seller",
			Value:  fmt.Sprintf("[%d](https://www.torn.com/profiles.php?XID=%d)", *n.SellerID, *n.SellerID),
			Inline: true,
		})
	}
	at := n.At
	if at.IsZero() {
		at = time.Now()
	}
	return &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("Price Alert: %s [%d]", n.ItemName, n.ItemID),
		URL:       link,
		Color:     color,
		Fields:    fields,
		Footer:    &discordgo.MessageEmbedFooter{Text: footerText},
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

func formatMoney(v int64) string {
	s := fmt.Sprintf("%d", v)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
