package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"retail-assistant/internal/classify"
	"retail-assistant/internal/model"
	"retail-assistant/internal/pipeline"
	"retail-assistant/internal/repository"
	"retail-assistant/internal/transport"
)

const (
	msgConsent = "Добро пожаловать! Для работы с ботом подтвердите согласие " +
		"на обработку персональных данных."
	msgConsentDone  = "Спасибо! Выберите действие в меню."
	msgSearchPrompt = "Введите название, код или штрихкод товара."
	msgCardPrompt   = "Отправьте номер дисконтной карты или её фотографию."
	msgAskPrompt    = "Напишите ваш вопрос, оператор ответит в ближайшее время."
	msgAnswerPrompt = "Ответьте на сообщение с вопросом пользователя."
	msgPayload      = "Отправьте текст, фотографию или видео для рассылки."
	msgFailure      = "Что-то пошло не так. Попробуйте ещё раз."
)

// handlerFunc обрабатывает одно событие в рамках текущей сессии.
type handlerFunc func(ctx context.Context, s *model.Session, ev transport.Event) error

// transition — строка таблицы переходов: кому и из каких состояний доступна
// команда и что она делает.
type transition struct {
	roles  []model.RoleClass // nil — доступно любой роли
	states []model.State     // nil — из любого состояния
	fn     handlerFunc
}

func roleAllowed(t transition, role model.RoleClass) bool {
	if t.roles == nil {
		return true
	}
	for _, r := range t.roles {
		if r == role {
			return true
		}
	}
	return false
}

func stateAllowed(t transition, state model.State) bool {
	if t.states == nil {
		return true
	}
	for _, s := range t.states {
		if s == state {
			return true
		}
	}
	return false
}

// transitions возвращает таблицу переходов конечного автомата. Команды вне
// таблицы обрабатываются свободным вводом текущего состояния.
func (b *Bot) transitions() map[string]transition {
	admin := []model.RoleClass{model.RoleAdmin}
	staff := []model.RoleClass{model.RoleOperator, model.RoleAdmin}
	menus := []model.State{model.StateMainMenu, model.StateMarketingMenu,
		model.StateStatisticsMenu, model.StateBroadcastMenu}

	return map[string]transition{
		btnSearch: {states: menus, fn: b.toSearch},
		btnCard:   {states: menus, fn: b.toCardInput},
		btnAsk:    {states: menus, fn: b.toQuestion},
		btnInfo:   {states: menus, fn: b.showInfo},
		btnVisit:  {states: menus, fn: b.showStore},

		btnMasterBalance: {states: menus, fn: b.showMasterBalance},

		btnAnswer: {roles: staff, states: menus, fn: b.toAnswer},

		btnMarketing:     {roles: admin, states: menus, fn: b.toMarketing},
		btnStatistics:    {roles: admin, states: menus, fn: b.toStatistics},
		btnBroadcastMenu: {roles: admin, states: menus, fn: b.toBroadcastMenu},

		btnStatUsers:      {roles: admin, states: []model.State{model.StateStatisticsMenu}, fn: b.reportUsers},
		btnStatSearches:   {roles: admin, states: []model.State{model.StateStatisticsMenu}, fn: b.reportSearches},
		btnStatBroadcasts: {roles: admin, states: []model.State{model.StateStatisticsMenu}, fn: b.reportBroadcasts},
		btnStatQueries:    {roles: admin, states: []model.State{model.StateStatisticsMenu}, fn: b.reportQueries},
		btnStatPeak:       {roles: admin, states: []model.State{model.StateStatisticsMenu}, fn: b.reportPeak},

		btnBroadcastAll:    {roles: admin, states: []model.State{model.StateBroadcastMenu}, fn: b.selectAudience(audienceAll)},
		btnSegFamily:       {roles: admin, states: []model.State{model.StateBroadcastMenu}, fn: b.selectAudience(audienceFamily)},
		btnSegMaster:       {roles: admin, states: []model.State{model.StateBroadcastMenu}, fn: b.selectAudience(audienceMaster)},
		btnSegHome:         {roles: admin, states: []model.State{model.StateBroadcastMenu}, fn: b.selectAudience(audienceHome)},
		btnSegFamilyHome:   {roles: admin, states: []model.State{model.StateBroadcastMenu}, fn: b.selectAudience(audienceFamilyHome)},
		btnAllExceptMaster: {roles: admin, states: []model.State{model.StateBroadcastMenu}, fn: b.selectAudience(audienceAllExceptMaster)},
	}
}

// HandleEvent обрабатывает одно входящее событие. Ошибки обработчиков
// гасятся здесь: пользователь получает нейтральное сообщение и главное меню,
// диалог продолжается.
func (b *Bot) HandleEvent(ctx context.Context, ev transport.Event) {
	if err := b.handle(ctx, ev); err != nil {
		b.logger.Error("event handling failed",
			zap.Int64("identity", ev.Identity), zap.Int64("updateID", ev.UpdateID), zap.Error(err))

		s := &model.Session{Identity: ev.Identity, State: model.StateMainMenu}
		if err := b.sendMainMenu(ctx, s, msgFailure); err != nil {
			b.logger.Error("failure recovery failed", zap.Int64("identity", ev.Identity), zap.Error(err))
		}
	}
}

func (b *Bot) handle(ctx context.Context, ev transport.Event) error {
	if err := b.repo.UpsertUser(ctx, ev.Identity, ev.Username); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}

	s, err := b.repo.GetSession(ctx, ev.Identity)
	fresh := errors.Is(err, repository.ErrSessionNotFound)
	if fresh {
		s = &model.Session{Identity: ev.Identity, State: model.StateAwaitingConsent}
	} else if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	// До согласия доступна единственная команда.
	if s.State == model.StateAwaitingConsent {
		return b.handleConsent(ctx, s, ev, fresh)
	}

	// Глобальные команды обрабатываются независимо от состояния.
	switch ev.Text {
	case "/start", btnRestart, btnMainMenu:
		return b.sendMainMenu(ctx, s, "")
	}

	if t, ok := b.transitions()[ev.Text]; ok && stateAllowed(t, s.State) {
		role := b.role(ctx, ev.Identity)
		if !roleAllowed(t, role) {
			b.logger.Warn("command denied by role",
				zap.Int64("identity", ev.Identity), zap.String("command", ev.Text), zap.Int("role", int(role)))
			return b.sendMainMenu(ctx, s, "")
		}
		return t.fn(ctx, s, ev)
	}

	switch s.State {
	case model.StateAwaitingProductQuery, model.StateMainMenu:
		return b.handleSearch(ctx, s, ev)
	case model.StateAwaitingCardInput:
		return b.handleCardInput(ctx, s, ev)
	case model.StateAwaitingOperatorQuestion:
		return b.handleQuestion(ctx, s, ev)
	case model.StateAwaitingOperatorAnswer:
		return b.handleAnswer(ctx, s, ev)
	case model.StateAwaitingBroadcastPayload:
		return b.handleBroadcastPayload(ctx, s, ev)
	default:
		return b.sendMainMenu(ctx, s, "")
	}
}

// handleConsent ждёт подтверждения согласия. Первый контакт только показывает
// приглашение; любой последующий ввод без согласия фиксируется в журнале
// как отказ и повторяет приглашение.
func (b *Bot) handleConsent(ctx context.Context, s *model.Session, ev transport.Event, fresh bool) error {
	if ev.Text != btnConsent {
		if !fresh {
			b.audit(ctx, s.Identity, model.ActionConsent, false, "", false)
		}
		_, err := b.sender.SendText(ctx, s.Identity, msgConsent, consentKeyboard())
		if err != nil {
			return err
		}
		return b.saveState(ctx, s, model.StateAwaitingConsent, "")
	}

	b.audit(ctx, s.Identity, model.ActionConsent, false, "", true)
	return b.sendMainMenu(ctx, s, msgConsentDone)
}

func (b *Bot) toSearch(ctx context.Context, s *model.Session, _ transport.Event) error {
	if _, err := b.sender.SendText(ctx, s.Identity, msgSearchPrompt, backKeyboard()); err != nil {
		return err
	}
	return b.saveState(ctx, s, model.StateAwaitingProductQuery, "")
}

func (b *Bot) toCardInput(ctx context.Context, s *model.Session, _ transport.Event) error {
	if _, err := b.sender.SendText(ctx, s.Identity, msgCardPrompt, backKeyboard()); err != nil {
		return err
	}
	return b.saveState(ctx, s, model.StateAwaitingCardInput, "")
}

func (b *Bot) toQuestion(ctx context.Context, s *model.Session, _ transport.Event) error {
	if _, err := b.sender.SendText(ctx, s.Identity, msgAskPrompt, backKeyboard()); err != nil {
		return err
	}
	return b.saveState(ctx, s, model.StateAwaitingOperatorQuestion, "")
}

func (b *Bot) toAnswer(ctx context.Context, s *model.Session, _ transport.Event) error {
	if _, err := b.sender.SendText(ctx, s.Identity, msgAnswerPrompt, backKeyboard()); err != nil {
		return err
	}
	return b.saveState(ctx, s, model.StateAwaitingOperatorAnswer, "")
}

func (b *Bot) toMarketing(ctx context.Context, s *model.Session, _ transport.Event) error {
	if _, err := b.sender.SendText(ctx, s.Identity, "Меню маркетинга", marketingKeyboard()); err != nil {
		return err
	}
	return b.saveState(ctx, s, model.StateMarketingMenu, "")
}

func (b *Bot) toStatistics(ctx context.Context, s *model.Session, _ transport.Event) error {
	if _, err := b.sender.SendText(ctx, s.Identity, "Меню статистики", statisticsKeyboard()); err != nil {
		return err
	}
	return b.saveState(ctx, s, model.StateStatisticsMenu, "")
}

func (b *Bot) toBroadcastMenu(ctx context.Context, s *model.Session, _ transport.Event) error {
	if _, err := b.sender.SendText(ctx, s.Identity, "Выберите аудиторию рассылки", broadcastKeyboard()); err != nil {
		return err
	}
	return b.saveState(ctx, s, model.StateBroadcastMenu, "")
}

// handleSearch классифицирует запрос и показывает найденные карточки товара.
// Фотография трактуется как снимок штрихкода.
func (b *Bot) handleSearch(ctx context.Context, s *model.Session, ev transport.Event) error {
	var (
		q      classify.Query
		action model.ActionCode
	)

	switch {
	case ev.PhotoRef != "":
		action = model.ActionBarcodePhoto
		number, err := b.decodePhoto(ctx, ev.PhotoRef)
		if err != nil {
			b.logger.Info("barcode photo not recognized", zap.Int64("identity", s.Identity), zap.Error(err))
			b.audit(ctx, s.Identity, action, true, "", false)
			_, err := b.sender.SendText(ctx, s.Identity, "Штрихкод на фотографии не распознан.", backKeyboard())
			return err
		}
		q = classify.Classify(number)
	case ev.Text != "":
		q = classify.Classify(ev.Text)
		switch q.Kind {
		case classify.KindWord:
			action = model.ActionWordSearch
		case classify.KindCode:
			action = model.ActionCodeSearch
		case classify.KindBarcode:
			action = model.ActionBarcodeText
		}
	default:
		_, err := b.sender.SendText(ctx, s.Identity, msgSearchPrompt, backKeyboard())
		return err
	}

	if q.Kind == classify.KindUnrecognized {
		_, err := b.sender.SendText(ctx, s.Identity, msgSearchPrompt, backKeyboard())
		return err
	}

	res := b.resolver.Resolve(ctx, q)
	b.audit(ctx, s.Identity, action, true, q.Value, res.Outcome == pipeline.OutcomeFound)

	if res.Outcome != pipeline.OutcomeFound {
		text := "К сожалению, ничего не найдено. Попробуйте изменить запрос."
		if b.opts.SiteSearchURL != "" {
			text += "\nПоискать на сайте: " + b.opts.SiteSearchURL
		}
		_, err := b.sender.SendText(ctx, s.Identity, text, backKeyboard())
		return err
	}

	for _, card := range res.Cards {
		if err := b.sendCard(ctx, s.Identity, card); err != nil {
			return err
		}
	}

	// Выдача завершается ссылкой на поиск по сайту.
	if b.opts.SiteSearchURL != "" {
		_, err := b.sender.SendText(ctx, s.Identity,
			"Не нашли нужное? Искать на сайте: "+b.opts.SiteSearchURL, backKeyboard())
		return err
	}
	return nil
}

func (b *Bot) decodePhoto(ctx context.Context, ref string) (string, error) {
	image, err := b.sender.FetchFile(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("fetch photo: %w", err)
	}
	number, err := b.decoder.Decode(ctx, image)
	if err != nil {
		return "", fmt.Errorf("decode barcode: %w", err)
	}
	return number, nil
}

// handleQuestion пересылает вопрос оператору, маскируя стоп-слова.
func (b *Bot) handleQuestion(ctx context.Context, s *model.Session, ev transport.Event) error {
	if ev.Text == "" {
		_, err := b.sender.SendText(ctx, s.Identity, msgAskPrompt, backKeyboard())
		return err
	}

	question := maskStopWords(ev.Text, b.opts.StopWords)
	forwarded := fmt.Sprintf("Вопрос от пользователя %d:\n%s", s.Identity, question)
	if _, err := b.sender.SendText(ctx, b.opts.OperatorID, forwarded, nil); err != nil {
		return fmt.Errorf("forward question: %w", err)
	}

	b.audit(ctx, s.Identity, model.ActionAskOperator, false, question, true)
	return b.sendMainMenu(ctx, s, "Вопрос отправлен оператору. Ответ придёт в этот чат.")
}

// handleAnswer отправляет ответ оператора автору вопроса. Адресат извлекается
// из цитируемого сообщения.
func (b *Bot) handleAnswer(ctx context.Context, s *model.Session, ev transport.Event) error {
	if ev.Text == "" || ev.ReplyToText == "" {
		_, err := b.sender.SendText(ctx, s.Identity, msgAnswerPrompt, backKeyboard())
		return err
	}

	var recipient int64
	if _, err := fmt.Sscanf(ev.ReplyToText, "Вопрос от пользователя %d:", &recipient); err != nil {
		_, err := b.sender.SendText(ctx, s.Identity, "Не удалось определить автора вопроса.", backKeyboard())
		return err
	}

	answer := "Ответ оператора:\n" + ev.Text
	if _, err := b.sender.SendText(ctx, recipient, answer, nil); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}

	b.audit(ctx, s.Identity, model.ActionAnswer, false, "", true)
	return b.sendMainMenu(ctx, s, "Ответ отправлен.")
}

// showMasterBalance показывает накопленный баланс карты «Мастер».
func (b *Bot) showMasterBalance(ctx context.Context, s *model.Session, _ transport.Event) error {
	card, err := b.repo.MasterCard(ctx, s.Identity)
	if err != nil {
		return fmt.Errorf("master card: %w", err)
	}
	if card == "" {
		_, err := b.sender.SendText(ctx, s.Identity, "Карта «Мастер» не привязана.", backKeyboard())
		return err
	}

	customer, err := b.cards.CustomerByCard(ctx, card)
	if err != nil {
		b.audit(ctx, s.Identity, model.ActionCardBalance, false, card, false)
		return fmt.Errorf("customer by card: %w", err)
	}

	b.audit(ctx, s.Identity, model.ActionCardBalance, false, card, true)
	text := fmt.Sprintf("Баланс дисконтной карты «Мастер»: %s", customer.Balance)
	_, err = b.sender.SendText(ctx, s.Identity, text, backKeyboard())
	return err
}

func (b *Bot) showInfo(ctx context.Context, s *model.Session, _ transport.Event) error {
	text := "Наши магазины:\n" +
		"Гродно, пр. Космонавтов 2Г\n" +
		"Гродно, ул. Дзержинского 118"
	_, err := b.sender.SendText(ctx, s.Identity, text, backKeyboard())
	return err
}

func (b *Bot) showStore(ctx context.Context, s *model.Session, _ transport.Event) error {
	_, err := b.sender.SendText(ctx, s.Identity, "Наш сайт: "+b.opts.StoreURL, backKeyboard())
	return err
}

// maskStopWords заменяет стоп-слова звёздочками без учёта регистра.
func maskStopWords(text string, words []string) string {
	for _, w := range words {
		if w == "" {
			continue
		}
		lower := strings.ToLower(text)
		needle := strings.ToLower(w)
		for {
			i := strings.Index(lower, needle)
			if i < 0 {
				break
			}
			text = text[:i] + strings.Repeat("*", len([]rune(w))) + text[i+len(needle):]
			lower = strings.ToLower(text)
		}
	}
	return text
}
