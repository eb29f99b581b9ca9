package bot

import (
	"context"
	"fmt"
	"strings"

	"retail-assistant/internal/model"
	"retail-assistant/internal/repository"
	"retail-assistant/internal/transport"
)

// Statistics описывает отчётные запросы к журналу аудита и публикаций.
type Statistics interface {
	CountConsent(ctx context.Context, agreed bool) (int64, error)
	CountAction(ctx context.Context, action model.ActionCode) (int64, error)
	CountUsers(ctx context.Context) (int64, error)
	CountUsersInSegment(ctx context.Context, segment model.SegmentID) (int64, error)
	CountUsersWithCard(ctx context.Context) (int64, error)
	CountUsersWithoutCard(ctx context.Context) (int64, error)
	PopularQueries(ctx context.Context, limit int) ([]repository.QueryCount, error)
	PeakActivity(ctx context.Context, limit int) ([]repository.ActivityBucket, error)
	CountPublications(ctx context.Context, kind model.PayloadKind) (int64, error)
}

var weekdayNames = [...]string{"", "Пн", "Вт", "Ср", "Чт", "Пт", "Сб", "Вс"}

// reportUsers показывает состав аудитории бота по сегментам.
func (b *Bot) reportUsers(ctx context.Context, s *model.Session, _ transport.Event) error {
	total, err := b.stats.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	withCard, err := b.stats.CountUsersWithCard(ctx)
	if err != nil {
		return fmt.Errorf("count users with card: %w", err)
	}
	withoutCard, err := b.stats.CountUsersWithoutCard(ctx)
	if err != nil {
		return fmt.Errorf("count users without card: %w", err)
	}
	consented, err := b.stats.CountConsent(ctx, true)
	if err != nil {
		return fmt.Errorf("count consent: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Пользователей: %d\n", total)
	fmt.Fprintf(&sb, "Дали согласие: %d\n", consented)
	fmt.Fprintf(&sb, "С картой: %d\n", withCard)
	fmt.Fprintf(&sb, "Без карты: %d\n", withoutCard)

	sb.WriteString("\nПо сегментам:")
	for _, seg := range model.KnownSegments {
		n, err := b.stats.CountUsersInSegment(ctx, seg)
		if err != nil {
			return fmt.Errorf("count segment %s: %w", seg, err)
		}
		fmt.Fprintf(&sb, "\n%s: %d", model.SegmentName(seg), n)
	}

	_, err = b.sender.SendText(ctx, s.Identity, sb.String(), statisticsKeyboard())
	return err
}

// reportSearches показывает число поисковых запросов по видам ввода.
func (b *Bot) reportSearches(ctx context.Context, s *model.Session, _ transport.Event) error {
	rows := []struct {
		label  string
		action model.ActionCode
	}{
		{"По названию", model.ActionWordSearch},
		{"По коду", model.ActionCodeSearch},
		{"По штрихкоду", model.ActionBarcodeText},
		{"По фото штрихкода", model.ActionBarcodePhoto},
	}

	var sb strings.Builder
	sb.WriteString("Поисковые запросы:")
	for _, row := range rows {
		n, err := b.stats.CountAction(ctx, row.action)
		if err != nil {
			return fmt.Errorf("count action %d: %w", row.action, err)
		}
		fmt.Fprintf(&sb, "\n%s: %d", row.label, n)
	}

	_, err := b.sender.SendText(ctx, s.Identity, sb.String(), statisticsKeyboard())
	return err
}

// reportBroadcasts показывает число публикаций рассылок по типу содержимого.
func (b *Bot) reportBroadcasts(ctx context.Context, s *model.Session, _ transport.Event) error {
	total, err := b.stats.CountPublications(ctx, 0)
	if err != nil {
		return fmt.Errorf("count publications: %w", err)
	}

	rows := []struct {
		label string
		kind  model.PayloadKind
	}{
		{"Текст", model.PayloadText},
		{"Фото", model.PayloadPhoto},
		{"Видео", model.PayloadVideo},
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Доставлено сообщений рассылок: %d", total)
	for _, row := range rows {
		n, err := b.stats.CountPublications(ctx, row.kind)
		if err != nil {
			return fmt.Errorf("count publications kind %d: %w", row.kind, err)
		}
		fmt.Fprintf(&sb, "\n%s: %d", row.label, n)
	}

	_, err = b.sender.SendText(ctx, s.Identity, sb.String(), statisticsKeyboard())
	return err
}

// reportQueries показывает самые частые поисковые запросы.
func (b *Bot) reportQueries(ctx context.Context, s *model.Session, _ transport.Event) error {
	queries, err := b.stats.PopularQueries(ctx, 10)
	if err != nil {
		return fmt.Errorf("popular queries: %w", err)
	}

	if len(queries) == 0 {
		_, err := b.sender.SendText(ctx, s.Identity, "Поисковых запросов пока не было.", statisticsKeyboard())
		return err
	}

	var sb strings.Builder
	sb.WriteString("Популярные запросы:")
	for i, q := range queries {
		fmt.Fprintf(&sb, "\n%d. %s — %d", i+1, q.Query, q.Count)
	}

	_, err = b.sender.SendText(ctx, s.Identity, sb.String(), statisticsKeyboard())
	return err
}

// reportPeak показывает окна пиковой активности пользователей.
func (b *Bot) reportPeak(ctx context.Context, s *model.Session, _ transport.Event) error {
	buckets, err := b.stats.PeakActivity(ctx, 5)
	if err != nil {
		return fmt.Errorf("peak activity: %w", err)
	}

	if len(buckets) == 0 {
		_, err := b.sender.SendText(ctx, s.Identity, "Данных об активности пока нет.", statisticsKeyboard())
		return err
	}

	var sb strings.Builder
	sb.WriteString("Пиковая активность:")
	for _, bucket := range buckets {
		day := ""
		if bucket.Weekday >= 1 && bucket.Weekday <= 7 {
			day = weekdayNames[bucket.Weekday]
		}
		fmt.Fprintf(&sb, "\n%s %02d:00 — %d событий", day, bucket.Hour, bucket.Count)
	}

	_, err = b.sender.SendText(ctx, s.Identity, sb.String(), statisticsKeyboard())
	return err
}
