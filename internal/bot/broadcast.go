package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"retail-assistant/internal/model"
	"retail-assistant/internal/transport"
)

// audience — селектор аудитории рассылки, сохраняется в сессии между выбором
// аудитории и отправкой содержимого.
type audience string

const (
	audienceAll             audience = "all"
	audienceFamily          audience = "family"
	audienceMaster          audience = "master"
	audienceHome            audience = "home"
	audienceFamilyHome      audience = "family+home"
	audienceAllExceptMaster audience = "all-master"
)

// DeliveryReport — итог одного прогона рассылки.
type DeliveryReport struct {
	Attempted int
	Delivered int
	Failed    int
}

// selectAudience фиксирует выбранную аудиторию и переводит диалог в ожидание
// содержимого рассылки.
func (b *Bot) selectAudience(a audience) handlerFunc {
	return func(ctx context.Context, s *model.Session, _ transport.Event) error {
		if _, err := b.sender.SendText(ctx, s.Identity, msgPayload, backKeyboard()); err != nil {
			return err
		}
		return b.saveState(ctx, s, model.StateAwaitingBroadcastPayload, string(a))
	}
}

// handleBroadcastPayload проверяет содержимое, разрешает аудиторию
// и запускает рассылку. Содержимое проверяется до обращения к хранилищу.
func (b *Bot) handleBroadcastPayload(ctx context.Context, s *model.Session, ev transport.Event) error {
	payload := model.BroadcastPayload{
		Text:     ev.Text,
		PhotoRef: ev.PhotoRef,
		VideoRef: ev.VideoRef,
		Caption:  ev.Caption,
	}

	if _, ok := payload.Kind(); !ok {
		_, err := b.sender.SendText(ctx, s.Identity, msgPayload, backKeyboard())
		return err
	}

	a := audience(s.Pending)
	recipients, segment, err := b.resolveAudience(ctx, a)
	if err != nil {
		b.audit(ctx, s.Identity, model.ActionBroadcast, false, string(a), false)
		return fmt.Errorf("resolve audience: %w", err)
	}

	report := b.broadcast(ctx, payload, recipients, segment)

	summary := fmt.Sprintf("Рассылка завершена. Доставлено %d из %d.", report.Delivered, report.Attempted)
	return b.sendMainMenu(ctx, s, summary)
}

// resolveAudience превращает селектор в список получателей. Для составных
// селекторов сегмент публикации остаётся пустым.
func (b *Bot) resolveAudience(ctx context.Context, a audience) ([]int64, model.SegmentID, error) {
	switch a {
	case audienceAll:
		ids, err := b.repo.AllIdentities(ctx)
		return ids, "", err
	case audienceFamily:
		ids, err := b.repo.SegmentMembers(ctx, model.SegmentFamily)
		return ids, model.SegmentFamily, err
	case audienceMaster:
		ids, err := b.repo.SegmentMembers(ctx, model.SegmentMaster)
		return ids, model.SegmentMaster, err
	case audienceHome:
		ids, err := b.repo.SegmentMembers(ctx, model.SegmentHome)
		return ids, model.SegmentHome, err
	case audienceFamilyHome:
		family, err := b.repo.SegmentMembers(ctx, model.SegmentFamily)
		if err != nil {
			return nil, "", err
		}
		home, err := b.repo.SegmentMembers(ctx, model.SegmentHome)
		if err != nil {
			return nil, "", err
		}
		return unionIdentities(family, home), "", nil
	case audienceAllExceptMaster:
		all, err := b.repo.AllIdentities(ctx)
		if err != nil {
			return nil, "", err
		}
		master, err := b.repo.SegmentMembers(ctx, model.SegmentMaster)
		if err != nil {
			return nil, "", err
		}
		return exceptIdentities(all, master), "", nil
	}
	return nil, "", fmt.Errorf("unknown audience selector %q", a)
}

// broadcast последовательно доставляет содержимое получателям. Сбой одной
// доставки не прерывает рассылку. Каждая попытка доставки даёт одну запись
// в журнале аудита; успешная доставка дополнительно фиксируется в журнале
// публикаций.
func (b *Bot) broadcast(ctx context.Context, payload model.BroadcastPayload, recipients []int64, segment model.SegmentID) DeliveryReport {
	batchID := uuid.NewString()
	kind, _ := payload.Kind()

	report := DeliveryReport{Attempted: len(recipients)}
	for i, recipient := range recipients {
		if i > 0 && b.opts.BroadcastPause > 0 {
			select {
			case <-ctx.Done():
				report.Failed += len(recipients) - i
				b.logger.Warn("broadcast cancelled",
					zap.String("batchID", batchID), zap.Int("remaining", len(recipients)-i))
				return report
			case <-time.After(b.opts.BroadcastPause):
			}
		}

		messageID, err := b.deliver(ctx, recipient, payload, kind)
		b.audit(ctx, recipient, model.ActionBroadcast, false, "", err == nil)
		if err != nil {
			report.Failed++
			if errors.Is(err, transport.ErrDeliveryFailed) {
				b.logger.Info("recipient unavailable",
					zap.String("batchID", batchID), zap.Int64("recipient", recipient))
			} else {
				b.logger.Error("broadcast delivery failed",
					zap.String("batchID", batchID), zap.Int64("recipient", recipient), zap.Error(err))
			}
			continue
		}

		report.Delivered++
		pub := &model.Publication{
			MessageID:   messageID,
			Kind:        kind,
			Segment:     segment,
			Recipient:   recipient,
			PublishedAt: time.Now(),
		}
		if err := b.repo.AppendPublication(ctx, pub); err != nil {
			b.logger.Error("append publication failed",
				zap.String("batchID", batchID), zap.Int64("recipient", recipient), zap.Error(err))
		}
	}

	b.logger.Info("broadcast finished",
		zap.String("batchID", batchID), zap.Int("attempted", report.Attempted),
		zap.Int("delivered", report.Delivered), zap.Int("failed", report.Failed))
	return report
}

func (b *Bot) deliver(ctx context.Context, recipient int64, payload model.BroadcastPayload, kind model.PayloadKind) (string, error) {
	switch kind {
	case model.PayloadText:
		return b.sender.SendText(ctx, recipient, payload.Text, nil)
	case model.PayloadPhoto:
		return b.sender.SendPhotoRef(ctx, recipient, payload.PhotoRef, payload.Caption)
	case model.PayloadVideo:
		return b.sender.SendVideoRef(ctx, recipient, payload.VideoRef, payload.Caption)
	}
	return "", fmt.Errorf("unsupported payload kind %d", kind)
}

// unionIdentities объединяет два списка получателей без дубликатов,
// сохраняя порядок первого вхождения.
func unionIdentities(a, b []int64) []int64 {
	seen := make(map[int64]struct{}, len(a)+len(b))
	out := make([]int64, 0, len(a)+len(b))
	for _, id := range a {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// exceptIdentities возвращает получателей из all, не входящих в excluded.
func exceptIdentities(all, excluded []int64) []int64 {
	skip := make(map[int64]struct{}, len(excluded))
	for _, id := range excluded {
		skip[id] = struct{}{}
	}
	out := make([]int64, 0, len(all))
	for _, id := range all {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
