// Package bot реализует конечный автомат диалога: маршрутизацию команд,
// привязку дисконтных карт, вопросы оператору и рассылки.
package bot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"retail-assistant/internal/classify"
	"retail-assistant/internal/model"
	"retail-assistant/internal/pipeline"
	"retail-assistant/internal/transport"
)

// Repository описывает операции хранилища, используемые ботом.
type Repository interface {
	UpsertUser(ctx context.Context, identity int64, username string) error
	GetSession(ctx context.Context, identity int64) (*model.Session, error)
	SaveSession(ctx context.Context, s *model.Session) error
	MemberSegment(ctx context.Context, identity int64) (model.SegmentID, error)
	SegmentMembers(ctx context.Context, segment model.SegmentID) ([]int64, error)
	AllIdentities(ctx context.Context) ([]int64, error)
	LinkCard(ctx context.Context, segment model.SegmentID, identity int64, cardNumber string) error
	MasterCard(ctx context.Context, identity int64) (string, error)
	AppendAudit(ctx context.Context, rec *model.AuditRecord) error
	AppendPublication(ctx context.Context, p *model.Publication) error
}

// Sender описывает операции шлюза чата, используемые ботом.
type Sender interface {
	SendText(ctx context.Context, identity int64, text string, kb transport.Keyboard) (string, error)
	SendPhoto(ctx context.Context, identity int64, image []byte, caption string) (string, error)
	SendPhotoRef(ctx context.Context, identity int64, ref, caption string) (string, error)
	SendVideoRef(ctx context.Context, identity int64, ref, caption string) (string, error)
	PinMessage(ctx context.Context, identity int64, messageID string) error
	FetchFile(ctx context.Context, ref string) ([]byte, error)
}

// Resolver описывает конвейер поиска товара.
type Resolver interface {
	Resolve(ctx context.Context, q classify.Query) *pipeline.Resolution
}

// CardCatalog описывает поиск покупателя в каталоге по номеру карты.
type CardCatalog interface {
	CustomerByCard(ctx context.Context, cardNumber string) (*model.CustomerRecord, error)
}

// Decoder распознаёт номер штрихкода на фотографии.
type Decoder interface {
	Decode(ctx context.Context, image []byte) (string, error)
}

// Options — параметры бота, не зависящие от подключаемых сервисов.
type Options struct {
	OperatorID     int64
	AdminIDs       []int64
	SiteSearchURL  string
	StoreURL       string
	BroadcastPause time.Duration
	StopWords      []string
}

// Bot связывает хранилище, каталог и шлюз чата в конечный автомат диалога.
type Bot struct {
	repo     Repository
	stats    Statistics
	sender   Sender
	resolver Resolver
	cards    CardCatalog
	decoder  Decoder
	logger   *zap.Logger
	opts     Options

	admins map[int64]struct{}
}

// New создаёт бот с указанными сервисами и параметрами.
func New(repo Repository, stats Statistics, sender Sender, resolver Resolver, cards CardCatalog, decoder Decoder, logger *zap.Logger, opts Options) *Bot {
	admins := make(map[int64]struct{}, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = struct{}{}
	}
	return &Bot{
		repo:     repo,
		stats:    stats,
		sender:   sender,
		resolver: resolver,
		cards:    cards,
		decoder:  decoder,
		logger:   logger,
		opts:     opts,
		admins:   admins,
	}
}

// role определяет класс роли пользователя. Администратор и оператор задаются
// конфигурацией, держатель карты — членством в сегменте.
func (b *Bot) role(ctx context.Context, identity int64) model.RoleClass {
	if _, ok := b.admins[identity]; ok {
		return model.RoleAdmin
	}
	if identity == b.opts.OperatorID {
		return model.RoleOperator
	}
	seg, err := b.repo.MemberSegment(ctx, identity)
	if err != nil {
		b.logger.Error("member segment lookup failed", zap.Int64("identity", identity), zap.Error(err))
		return model.RoleGuest
	}
	if seg != "" {
		return model.RoleCardHolder
	}
	return model.RoleGuest
}

// segment возвращает сегмент пользователя для записи в журнал аудита,
// пустой для гостей.
func (b *Bot) segment(ctx context.Context, identity int64) model.SegmentID {
	seg, err := b.repo.MemberSegment(ctx, identity)
	if err != nil {
		b.logger.Error("member segment lookup failed", zap.Int64("identity", identity), zap.Error(err))
		return ""
	}
	return seg
}

// audit добавляет одну запись в журнал аудита. Сбой записи не прерывает
// обработку события.
func (b *Bot) audit(ctx context.Context, identity int64, action model.ActionCode, isSearch bool, query string, success bool) {
	rec := &model.AuditRecord{
		Identity:   identity,
		Segment:    b.segment(ctx, identity),
		Action:     action,
		IsSearch:   isSearch,
		OccurredAt: time.Now(),
		Query:      query,
		Success:    success,
	}
	if err := b.repo.AppendAudit(ctx, rec); err != nil {
		b.logger.Error("append audit failed",
			zap.Int64("identity", identity), zap.Int("action", int(action)), zap.Error(err))
	}
}

// saveState сохраняет новое состояние сессии.
func (b *Bot) saveState(ctx context.Context, s *model.Session, state model.State, pending string) error {
	s.State = state
	s.Pending = pending
	s.UpdatedAt = time.Now()
	return b.repo.SaveSession(ctx, s)
}

// sendMainMenu показывает главное меню с учётом роли.
func (b *Bot) sendMainMenu(ctx context.Context, s *model.Session, text string) error {
	role := b.role(ctx, s.Identity)
	card, err := b.repo.MasterCard(ctx, s.Identity)
	if err != nil {
		b.logger.Error("master card lookup failed", zap.Int64("identity", s.Identity), zap.Error(err))
	}
	if text == "" {
		text = "Главное меню"
	}
	if _, err := b.sender.SendText(ctx, s.Identity, text, mainMenuKeyboard(role, card != "")); err != nil {
		return err
	}
	return b.saveState(ctx, s, model.StateMainMenu, "")
}
