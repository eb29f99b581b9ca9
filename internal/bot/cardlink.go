package bot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"retail-assistant/internal/barcode"
	"retail-assistant/internal/catalog"
	"retail-assistant/internal/classify"
	"retail-assistant/internal/model"
	"retail-assistant/internal/transport"
)

// handleCardInput привязывает дисконтную карту по номеру или фотографии.
// Привязка выполняется в три этапа: сбор данных, атомарная фиксация
// в хранилище и доставка карты пользователю. До фиксации состояние
// не меняется, поэтому сбой на сборе позволяет просто повторить ввод.
func (b *Bot) handleCardInput(ctx context.Context, s *model.Session, ev transport.Event) error {
	var (
		number string
		action model.ActionCode
	)

	switch {
	case ev.PhotoRef != "":
		action = model.ActionCardPhoto
		decoded, err := b.decodePhoto(ctx, ev.PhotoRef)
		if err != nil {
			b.logger.Info("card photo not recognized", zap.Int64("identity", s.Identity), zap.Error(err))
			b.audit(ctx, s.Identity, action, false, "", false)
			_, err := b.sender.SendText(ctx, s.Identity, "Номер карты на фотографии не распознан.", backKeyboard())
			return err
		}
		number = decoded
	case ev.Text != "":
		action = model.ActionCardText
		number = ev.Text
	default:
		_, err := b.sender.SendText(ctx, s.Identity, msgCardPrompt, backKeyboard())
		return err
	}

	q := classify.Classify(number)
	if q.Kind != classify.KindBarcode && q.Kind != classify.KindCode {
		b.audit(ctx, s.Identity, action, false, number, false)
		_, err := b.sender.SendText(ctx, s.Identity,
			"Номер карты должен состоять только из цифр. Проверьте и отправьте снова.", backKeyboard())
		return err
	}
	number = q.Value

	// Этап сбора: все внешние данные до первой записи в хранилище.
	customer, err := b.cards.CustomerByCard(ctx, number)
	if errors.Is(err, catalog.ErrCustomerNotFound) {
		b.audit(ctx, s.Identity, action, false, number, false)
		_, err := b.sender.SendText(ctx, s.Identity,
			"Карта не найдена. Проверьте номер и попробуйте ещё раз.", backKeyboard())
		return err
	}
	if err != nil {
		b.audit(ctx, s.Identity, action, false, number, false)
		return fmt.Errorf("customer by card: %w", err)
	}

	segment := customer.Segment
	if model.SegmentName(segment) == "" {
		b.logger.Warn("unknown segment code",
			zap.Int64("identity", s.Identity), zap.String("segment", string(segment)))
		b.audit(ctx, s.Identity, action, false, number, false)
		_, err := b.sender.SendText(ctx, s.Identity,
			"Тип карты не поддерживается ботом. Обратитесь к оператору.", backKeyboard())
		return err
	}

	image, err := barcode.Generate(number)
	if err != nil {
		b.audit(ctx, s.Identity, action, false, number, false)
		return fmt.Errorf("generate card barcode: %w", err)
	}

	// Этап фиксации: членство в сегменте и номер карты в одной транзакции.
	if err := b.repo.LinkCard(ctx, segment, s.Identity, number); err != nil {
		b.audit(ctx, s.Identity, action, false, number, false)
		return fmt.Errorf("link card: %w", err)
	}

	b.audit(ctx, s.Identity, action, false, number, true)

	// Этап доставки: сбой после фиксации не отменяет привязку,
	// пользователь узнаёт о ней из текстового сообщения.
	caption := cardCaption(customer)
	messageID, err := b.sender.SendPhoto(ctx, s.Identity, image, caption)
	if err != nil {
		b.logger.Error("card delivery failed after link",
			zap.Int64("identity", s.Identity), zap.Error(err))
		return b.sendMainMenu(ctx, s, "Карта привязана, но изображение доставить не удалось. "+caption)
	}

	if err := b.sender.PinMessage(ctx, s.Identity, messageID); err != nil {
		b.logger.Info("pin card message failed", zap.Int64("identity", s.Identity), zap.Error(err))
	}

	return b.sendMainMenu(ctx, s, "Карта привязана. Покажите закреплённое изображение на кассе.")
}

// cardCaption собирает подпись к изображению карты.
func cardCaption(c *model.CustomerRecord) string {
	text := fmt.Sprintf("Дисконтная карта «%s»", model.SegmentName(c.Segment))
	if c.ExpiresAt != "" {
		text += fmt.Sprintf("\nДействует до: %s", c.ExpiresAt)
	}
	if c.Segment == model.SegmentMaster && c.Balance != "" {
		text += fmt.Sprintf("\nНакоплено: %s", c.Balance)
	}
	return text
}
