package bot

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"retail-assistant/internal/model"
)

// sendCard отправляет одну карточку товара: с изображением, если оно
// доступно, иначе текстом.
func (b *Bot) sendCard(ctx context.Context, identity int64, card model.ProductCard) error {
	text := renderCard(card)

	if card.ImageURL != "" {
		_, err := b.sender.SendPhotoRef(ctx, identity, card.ImageURL, text)
		if err == nil {
			return nil
		}
		b.logger.Info("card photo delivery failed, falling back to text",
			zap.Int64("identity", identity), zap.Error(err))
	}

	_, err := b.sender.SendText(ctx, identity, text, backKeyboard())
	return err
}

// renderCard собирает текст карточки товара.
func renderCard(card model.ProductCard) string {
	var sb strings.Builder

	sb.WriteString(card.Name)
	if card.Description != "" {
		sb.WriteString("\n\n")
		sb.WriteString(card.Description)
	}
	if card.Price != "" {
		fmt.Fprintf(&sb, "\n\nЦена: %s руб.", card.Price)
	}

	if len(card.Stock) > 0 {
		sb.WriteString("\n\nОстатки:")
		for _, line := range card.Stock {
			fmt.Fprintf(&sb, "\n%s: %s %s", line.Location, line.Quantity, line.Unit)
		}
	}

	if card.Category != "" {
		fmt.Fprintf(&sb, "\n\nКатегория: %s", card.Category)
	}

	if len(card.Attributes) > 0 {
		sb.WriteString("\n\nХарактеристики:")
		for _, a := range card.Attributes {
			fmt.Fprintf(&sb, "\n%s: %s", a.Name, a.Text)
		}
	}

	if card.DetailURL != "" {
		fmt.Fprintf(&sb, "\n\nПодробнее: %s", card.DetailURL)
	}

	return sb.String()
}
