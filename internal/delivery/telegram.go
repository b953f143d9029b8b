// Package delivery publishes lot announcements and operator advisories.
package delivery

import (
	"fmt"
	"log"
	"strings"

	"auction-tracker/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Publisher is the outbound contract: announce a lot, rewrite an existing
// announcement, alert the operators.
type Publisher interface {
	Publish(chatID int64, lot *models.Lot) (messageID int, err error)
	EditPublished(chatID int64, messageID int, lot *models.Lot) error
	NotifyOperators(text string) error
}

// Telegram delivers through the Bot API. The operator allow-list is read
// through a provider on every advisory, so changes made through the admin
// API take effect without a restart.
type Telegram struct {
	bot       *tgbotapi.BotAPI
	operators func() []int64
}

// NewTelegram connects the bot and verifies the token. The operators
// provider returns the current advisory recipients; nil disables advisories.
func NewTelegram(token string, operators func() []int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect Telegram bot: %w", err)
	}
	log.Printf("[Telegram] Authorized as @%s", bot.Self.UserName)
	return &Telegram{bot: bot, operators: operators}, nil
}

// Publish sends the announcement, with the first lot photo attached when one
// exists. Returns the message id of the text-bearing message so later edits
// land on the caption or text that carries the lot details.
func (t *Telegram) Publish(chatID int64, lot *models.Lot) (int, error) {
	text := FormatLot(lot)

	images := lot.GetImageURLs()
	if len(images) > 0 {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(images[0]))
		photo.Caption = text
		photo.ParseMode = tgbotapi.ModeHTML
		sent, err := t.bot.Send(photo)
		if err == nil {
			return sent.MessageID, nil
		}
		// Broken image URLs are common on the source side; the
		// announcement still goes out as plain text.
		log.Printf("[Telegram] Photo send failed for lot %s, falling back to text: %v", lot.Number, err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to send lot %s: %w", lot.Number, err)
	}
	return sent.MessageID, nil
}

// EditPublished rewrites an announcement in place. The original may have
// been a photo (caption edit) or plain text (text edit); the caption edit is
// tried first because published lots usually carry an image.
func (t *Telegram) EditPublished(chatID int64, messageID int, lot *models.Lot) error {
	text := FormatLot(lot)

	caption := tgbotapi.NewEditMessageCaption(chatID, messageID, text)
	caption.ParseMode = tgbotapi.ModeHTML
	if _, err := t.bot.Send(caption); err == nil {
		return nil
	}

	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true
	if _, err := t.bot.Send(edit); err != nil {
		return fmt.Errorf("failed to edit message %d in chat %d: %w", messageID, chatID, err)
	}
	return nil
}

// NotifyOperators fans the advisory out to every operator chat. Partial
// failure is reported but does not stop the remaining sends.
func (t *Telegram) NotifyOperators(text string) error {
	if t.operators == nil {
		return nil
	}
	var firstErr error
	for _, chatID := range t.operators() {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.DisableWebPagePreview = true
		if _, err := t.bot.Send(msg); err != nil {
			log.Printf("[Telegram] Failed to notify operator chat %d: %v", chatID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// FormatLot renders the announcement text. Status markers prefix the title
// once a lot leaves the active state so edited announcements read correctly
// in the channel history.
func FormatLot(lot *models.Lot) string {
	var b strings.Builder

	if marker := statusMarker(lot.Status); marker != "" {
		b.WriteString(marker)
		b.WriteString("\n\n")
	}

	b.WriteString("<b>")
	b.WriteString(escapeHTML(lot.Title))
	b.WriteString("</b>\n\n")

	if lot.Address != "" {
		fmt.Fprintf(&b, "📍 %s\n", escapeHTML(lot.Address))
	}
	if lot.Area != nil {
		fmt.Fprintf(&b, "📐 Площадь: %s кв.м\n", lot.Area.String())
	}
	if lot.Price != nil {
		label := "Начальная цена"
		if lot.LotType == models.LotTypeLease {
			label = "Начальная цена (годовая)"
		}
		fmt.Fprintf(&b, "💰 %s: %s руб.\n", label, formatMoney(lot.Price.StringFixed(2)))
	}
	if lot.MonthlyPrice != nil {
		fmt.Fprintf(&b, "💰 В месяц: %s руб.\n", formatMoney(lot.MonthlyPrice.StringFixed(2)))
	}
	if lot.Deposit != nil {
		fmt.Fprintf(&b, "🔐 Задаток: %s руб.\n", formatMoney(lot.Deposit.StringFixed(2)))
	}
	if lot.ContractTerm != "" {
		fmt.Fprintf(&b, "📃 Срок договора: %s\n", escapeHTML(lot.ContractTerm))
	}
	if lot.CadastralNumber != "" {
		fmt.Fprintf(&b, "🗺 Кадастровый номер: %s\n", lot.CadastralNumber)
	}
	if lot.Deadline != nil {
		fmt.Fprintf(&b, "⏳ Прием заявок до: %s\n", lot.Deadline.Format("02.01.2006 15:04"))
	} else if lot.DeadlineText != "" {
		fmt.Fprintf(&b, "⏳ Прием заявок до: %s\n", escapeHTML(lot.DeadlineText))
	}

	if lot.Link != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">Карточка лота %s</a>", lot.Link, escapeHTML(lot.Number))
	} else {
		fmt.Fprintf(&b, "\nЛот %s", escapeHTML(lot.Number))
	}
	return b.String()
}

func statusMarker(status models.LotStatus) string {
	switch status {
	case models.LotStatusFailed:
		return "❌ <b>Торги не состоялись</b>"
	case models.LotStatusSucceed:
		return "✅ <b>Торги состоялись</b>"
	case models.LotStatusCanceled:
		return "🚫 <b>Торги отменены</b>"
	case models.LotStatusSuspended:
		return "⏸ <b>Торги приостановлены</b>"
	}
	return ""
}

// formatMoney inserts thin group separators into the integer part of a
// fixed-point amount: "1234567.00" -> "1 234 567.00".
func formatMoney(s string) string {
	intPart := s
	frac := ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		intPart, frac = s[:idx], s[idx:]
	}
	if strings.HasSuffix(frac, ".00") {
		frac = ""
	}

	neg := strings.HasPrefix(intPart, "-")
	if neg {
		intPart = intPart[1:]
	}

	var groups []string
	for len(intPart) > 3 {
		groups = append([]string{intPart[len(intPart)-3:]}, groups...)
		intPart = intPart[:len(intPart)-3]
	}
	groups = append([]string{intPart}, groups...)

	out := strings.Join(groups, " ")
	if neg {
		out = "-" + out
	}
	return out + frac
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
