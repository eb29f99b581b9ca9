package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"retail-assistant/internal/catalog"
	"retail-assistant/internal/classify"
	"retail-assistant/internal/model"
	"retail-assistant/internal/pipeline"
	"retail-assistant/internal/repository"
	"retail-assistant/internal/transport"
)

type linkCall struct {
	segment model.SegmentID
	number  string
}

type stubRepo struct {
	mu          sync.Mutex
	sessions    map[int64]*model.Session
	memberOf    map[int64]model.SegmentID
	segments    map[model.SegmentID][]int64
	masterCards map[int64]string
	all         []int64
	audits      []model.AuditRecord
	pubs        []model.Publication
	links       []linkCall
	linkErr     error
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		sessions:    make(map[int64]*model.Session),
		memberOf:    make(map[int64]model.SegmentID),
		segments:    make(map[model.SegmentID][]int64),
		masterCards: make(map[int64]string),
	}
}

func (r *stubRepo) UpsertUser(_ context.Context, _ int64, _ string) error { return nil }

func (r *stubRepo) GetSession(_ context.Context, identity int64) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[identity]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	copied := *s
	return &copied, nil
}

func (r *stubRepo) SaveSession(_ context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *s
	r.sessions[s.Identity] = &copied
	return nil
}

func (r *stubRepo) MemberSegment(_ context.Context, identity int64) (model.SegmentID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memberOf[identity], nil
}

func (r *stubRepo) SegmentMembers(_ context.Context, segment model.SegmentID) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.segments[segment], nil
}

func (r *stubRepo) AllIdentities(_ context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.all, nil
}

func (r *stubRepo) LinkCard(_ context.Context, segment model.SegmentID, identity int64, number string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.linkErr != nil {
		return r.linkErr
	}
	r.links = append(r.links, linkCall{segment: segment, number: number})
	r.memberOf[identity] = segment
	r.segments[segment] = append(r.segments[segment], identity)
	if segment == model.SegmentMaster {
		r.masterCards[identity] = number
	}
	return nil
}

func (r *stubRepo) MasterCard(_ context.Context, identity int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.masterCards[identity], nil
}

func (r *stubRepo) AppendAudit(_ context.Context, rec *model.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, *rec)
	return nil
}

func (r *stubRepo) AppendPublication(_ context.Context, p *model.Publication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pubs = append(r.pubs, *p)
	return nil
}

func (r *stubRepo) auditActions() []model.ActionCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ActionCode, 0, len(r.audits))
	for _, a := range r.audits {
		out = append(out, a.Action)
	}
	return out
}

type stubStats struct{}

func (stubStats) CountConsent(_ context.Context, _ bool) (int64, error) { return 0, nil }
func (stubStats) CountAction(_ context.Context, _ model.ActionCode) (int64, error) {
	return 0, nil
}
func (stubStats) CountUsers(_ context.Context) (int64, error) { return 0, nil }
func (stubStats) CountUsersInSegment(_ context.Context, _ model.SegmentID) (int64, error) {
	return 0, nil
}
func (stubStats) CountUsersWithCard(_ context.Context) (int64, error)    { return 0, nil }
func (stubStats) CountUsersWithoutCard(_ context.Context) (int64, error) { return 0, nil }
func (stubStats) PopularQueries(_ context.Context, _ int) ([]repository.QueryCount, error) {
	return nil, nil
}
func (stubStats) PeakActivity(_ context.Context, _ int) ([]repository.ActivityBucket, error) {
	return nil, nil
}
func (stubStats) CountPublications(_ context.Context, _ model.PayloadKind) (int64, error) {
	return 0, nil
}

type sentMessage struct {
	kind     string
	identity int64
	text     string
	keyboard transport.Keyboard
}

type stubSender struct {
	mu       sync.Mutex
	messages []sentMessage
	failFor  map[int64]error
	files    map[string][]byte
	nextID   int
}

func newStubSender() *stubSender {
	return &stubSender{
		failFor: make(map[int64]error),
		files:   make(map[string][]byte),
	}
}

func (s *stubSender) record(kind string, identity int64, text string, kb transport.Keyboard) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[identity]; err != nil {
		return "", err
	}
	s.messages = append(s.messages, sentMessage{kind: kind, identity: identity, text: text, keyboard: kb})
	s.nextID++
	return fmt.Sprintf("msg-%d", s.nextID), nil
}

func (s *stubSender) SendText(_ context.Context, identity int64, text string, kb transport.Keyboard) (string, error) {
	return s.record("text", identity, text, kb)
}

func (s *stubSender) SendPhoto(_ context.Context, identity int64, _ []byte, caption string) (string, error) {
	return s.record("photo", identity, caption, nil)
}

func (s *stubSender) SendPhotoRef(_ context.Context, identity int64, ref, caption string) (string, error) {
	return s.record("photoRef", identity, ref+"|"+caption, nil)
}

func (s *stubSender) SendVideoRef(_ context.Context, identity int64, ref, caption string) (string, error) {
	return s.record("videoRef", identity, ref+"|"+caption, nil)
}

func (s *stubSender) PinMessage(_ context.Context, identity int64, messageID string) error {
	_, err := s.record("pin", identity, messageID, nil)
	return err
}

func (s *stubSender) FetchFile(_ context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[ref]
	if !ok {
		return nil, fmt.Errorf("no file %s", ref)
	}
	return data, nil
}

func (s *stubSender) sentTo(identity int64) []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentMessage, 0)
	for _, m := range s.messages {
		if m.identity == identity {
			out = append(out, m)
		}
	}
	return out
}

func (s *stubSender) last() sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return sentMessage{}
	}
	return s.messages[len(s.messages)-1]
}

type stubResolver struct {
	res   *pipeline.Resolution
	calls []classify.Query
}

func (r *stubResolver) Resolve(_ context.Context, q classify.Query) *pipeline.Resolution {
	r.calls = append(r.calls, q)
	if r.res == nil {
		return &pipeline.Resolution{Outcome: pipeline.OutcomeNotFound}
	}
	return r.res
}

type stubCards struct {
	customers map[string]*model.CustomerRecord
	err       error
}

func (c *stubCards) CustomerByCard(_ context.Context, number string) (*model.CustomerRecord, error) {
	if c.err != nil {
		return nil, c.err
	}
	customer, ok := c.customers[number]
	if !ok {
		return nil, catalog.ErrCustomerNotFound
	}
	return customer, nil
}

type stubDecoder struct {
	number string
	err    error
}

func (d *stubDecoder) Decode(_ context.Context, _ []byte) (string, error) {
	return d.number, d.err
}

func testOptions() Options {
	return Options{
		OperatorID:     900,
		AdminIDs:       []int64{500},
		SiteSearchURL:  "https://shop.example/search",
		StoreURL:       "https://shop.example",
		BroadcastPause: 0,
		StopWords:      []string{"дурак"},
	}
}

func newTestBot(repo *stubRepo, sender *stubSender, resolver *stubResolver, cards *stubCards, decoder *stubDecoder) *Bot {
	if resolver == nil {
		resolver = &stubResolver{}
	}
	if cards == nil {
		cards = &stubCards{customers: map[string]*model.CustomerRecord{}}
	}
	if decoder == nil {
		decoder = &stubDecoder{err: fmt.Errorf("not recognized")}
	}
	return New(repo, stubStats{}, sender, resolver, cards, decoder, zap.NewNop(), testOptions())
}

func setSession(repo *stubRepo, identity int64, state model.State, pending string) {
	repo.sessions[identity] = &model.Session{
		Identity:  identity,
		State:     state,
		Pending:   pending,
		UpdatedAt: time.Now(),
	}
}

func TestHandleEvent_ConsentFlow(t *testing.T) {
	repo := newStubRepo()
	sender := newStubSender()
	b := newTestBot(repo, sender, nil, nil, nil)

	b.HandleEvent(context.Background(), transport.Event{Identity: 1, Text: "/start"})

	if got := repo.sessions[1].State; got != model.StateAwaitingConsent {
		t.Fatalf("state after /start = %s, want %s", got, model.StateAwaitingConsent)
	}
	if last := sender.last(); !strings.Contains(last.text, "согласие") {
		t.Fatalf("prompt = %q, want consent prompt", last.text)
	}
	// Первый контакт — ещё не отказ.
	if len(repo.audits) != 0 {
		t.Fatalf("audits after first contact = %d, want 0", len(repo.audits))
	}

	// Любой последующий ввод без согласия повторяет приглашение
	// и фиксируется как отказ.
	b.HandleEvent(context.Background(), transport.Event{Identity: 1, Text: "молоток"})
	if got := repo.sessions[1].State; got != model.StateAwaitingConsent {
		t.Fatalf("state after stray text = %s, want %s", got, model.StateAwaitingConsent)
	}
	if len(repo.audits) != 1 {
		t.Fatalf("audits after decline = %d, want 1", len(repo.audits))
	}
	if rec := repo.audits[0]; rec.Action != model.ActionConsent || rec.Success {
		t.Fatalf("audit = %+v, want failed consent record", rec)
	}

	b.HandleEvent(context.Background(), transport.Event{Identity: 1, Text: btnConsent})
	if got := repo.sessions[1].State; got != model.StateMainMenu {
		t.Fatalf("state after consent = %s, want %s", got, model.StateMainMenu)
	}

	if len(repo.audits) != 2 {
		t.Fatalf("audits = %d, want decline and consent", len(repo.audits))
	}
	if rec := repo.audits[1]; rec.Action != model.ActionConsent || !rec.Success {
		t.Fatalf("audit = %+v, want successful consent record", rec)
	}
}

func TestHandleEvent_RoleGateRedirectsToMainMenu(t *testing.T) {
	repo := newStubRepo()
	sender := newStubSender()
	b := newTestBot(repo, sender, nil, nil, nil)
	setSession(repo, 1, model.StateMainMenu, "")

	b.HandleEvent(context.Background(), transport.Event{Identity: 1, Text: btnMarketing})

	if got := repo.sessions[1].State; got != model.StateMainMenu {
		t.Fatalf("state = %s, want %s", got, model.StateMainMenu)
	}
	if last := sender.last(); last.text != "Главное меню" {
		t.Fatalf("reply = %q, want main menu", last.text)
	}
}

func TestHandleEvent_AdminOpensMarketingMenu(t *testing.T) {
	repo := newStubRepo()
	sender := newStubSender()
	b := newTestBot(repo, sender, nil, nil, nil)
	setSession(repo, 500, model.StateMainMenu, "")

	b.HandleEvent(context.Background(), transport.Event{Identity: 500, Text: btnMarketing})

	if got := repo.sessions[500].State; got != model.StateMarketingMenu {
		t.Fatalf("state = %s, want %s", got, model.StateMarketingMenu)
	}
}

func TestHandleEvent_SearchAuditsOncePerQuery(t *testing.T) {
	repo := newStubRepo()
	sender := newStubSender()
	resolver := &stubResolver{res: &pipeline.Resolution{
		Outcome: pipeline.OutcomeFound,
		Cards:   []model.ProductCard{{Name: "Молоток"}},
	}}
	b := newTestBot(repo, sender, resolver, nil, nil)
	setSession(repo, 1, model.StateAwaitingProductQuery, "")

	b.HandleEvent(context.Background(), transport.Event{Identity: 1, Text: "молоток"})

	if len(resolver.calls) != 1 {
		t.Fatalf("resolver calls = %d, want 1", len(resolver.calls))
	}
	if len(repo.audits) != 1 {
		t.Fatalf("audits = %d, want 1", len(repo.audits))
	}
	rec := repo.audits[0]
	if rec.Action != model.ActionWordSearch || !rec.IsSearch || !rec.Success {
		t.Fatalf("audit = %+v, want successful word search", rec)
	}
	if rec.Query != "молоток" {
		t.Fatalf("audit query = %q, want молоток", rec.Query)
	}
}

func TestHandleEvent_SearchActionByKind(t *testing.T) {
	tests := []struct {
		input  string
		action model.ActionCode
	}{
		{"молоток", model.ActionWordSearch},
		{"1234", model.ActionCodeSearch},
		{"4810367002156", model.ActionBarcodeText},
	}

	for _, tt := range tests {
		repo := newStubRepo()
		sender := newStubSender()
		resolver := &stubResolver{}
		b := newTestBot(repo, sender, resolver, nil, nil)
		setSession(repo, 1, model.StateAwaitingProductQuery, "")

		b.HandleEvent(context.Background(), transport.Event{Identity: 1, Text: tt.input})

		actions := repo.auditActions()
		if len(actions) != 1 || actions[0] != tt.action {
			t.Fatalf("input %q: audit actions = %v, want [%d]", tt.input, actions, tt.action)
		}
	}
}

func TestHandleEvent_SearchResultsEndWithSiteLink(t *testing.T) {
	repo := newStubRepo()
	sender := newStubSender()
	resolver := &stubResolver{res: &pipeline.Resolution{
		Outcome: pipeline.OutcomeFound,
		Cards:   []model.ProductCard{{Name: "Молоток"}, {Name: "Молоток слесарный"}},
	}}
	b := newTestBot(repo, sender, resolver, nil, nil)
	setSession(repo, 1, model.StateAwaitingProductQuery, "")

	b.HandleEvent(context.Background(), transport.Event{Identity: 1, Text: "молоток"})

	sent := sender.sentTo(1)
	if len(sent) != 3 {
		t.Fatalf("messages = %d, want two cards and a site link", len(sent))
	}
	last := sender.last()
	if !strings.Contains(last.text, "Искать на сайте") {
		t.Fatalf("reply = %q, want site search offer", last.text)
	}
	if !strings.Contains(last.text, "https://shop.example/search") {
		t.Fatalf("reply = %q, want site search link", last.text)
	}
}

func TestHandleEvent_SearchNotFoundSuggestsSite(t *testing.T) {
	repo := newStubRepo()
	sender := newStubSender()
	b := newTestBot(repo, sender, &stubResolver{}, nil, nil)
	setSession(repo, 1, model.StateAwaitingProductQuery, "")

	b.HandleEvent(context.Background(), transport.Event{Identity: 1, Text: "несуществующее"})

	last := sender.last()
	if !strings.Contains(last.text, "ничего не найдено") {
		t.Fatalf("reply = %q, want not-found text", last.text)
	}
	if !strings.Contains(last.text, "https://shop.example/search") {
		t.Fatalf("reply = %q, want site search link", last.text)
	}
	if rec := repo.audits[0]; rec.Success {
		t.Fatalf("audit success = true, want false")
	}
}

func TestHandleEvent_PhotoSearchUsesDecoder(t *testing.T) {
	repo := newStubRepo()
	sender := newStubSender()
	sender.files["file-1"] = []byte("image")
	resolver := &stubResolver{res: &pipeline.Resolution{
		Outcome: pipeline.OutcomeFound,
		Cards:   []model.ProductCard{{Name: "Товар"}},
	}}
	decoder := &stubDecoder{number: "4810367002156"}
	b := newTestBot(repo, sender, resolver, nil, decoder)
	setSession(repo, 1, model.StateAwaitingProductQuery, "")

	b.HandleEvent(context.Background(), transport.Event{Identity: 1, PhotoRef: "file-1"})

	if len(resolver.calls) != 1 || resolver.calls[0].Kind != classify.KindBarcode {
		t.Fatalf("resolver calls = %+v, want barcode query", resolver.calls)
	}
	actions := repo.auditActions()
	if len(actions) != 1 || actions[0] != model.ActionBarcodePhoto {
		t.Fatalf("audit actions = %v, want [%d]", actions, model.ActionBarcodePhoto)
	}
}

func TestHandleEvent_QuestionForwardedWithMask(t *testing.T) {
	repo := newStubRepo()
	sender := newStubSender()
	b := newTestBot(repo, sender, nil, nil, nil)
	setSession(repo, 1, model.StateAwaitingOperatorQuestion, "")

	b.HandleEvent(context.Background(), transport.Event{Identity: 1, Text: "Ты дурак или как?"})

	toOperator := sender.sentTo(900)
	if len(toOperator) != 1 {
		t.Fatalf("messages to operator = %d, want 1", len(toOperator))
	}
	if strings.Contains(toOperator[0].text, "дурак") {
		t.Fatalf("forwarded = %q, stop word not masked", toOperator[0].text)
	}
	if !strings.Contains(toOperator[0].text, "*****") {
		t.Fatalf("forwarded = %q, want masked word", toOperator[0].text)
	}

	actions := repo.auditActions()
	if len(actions) != 1 || actions[0] != model.ActionAskOperator {
		t.Fatalf("audit actions = %v, want [%d]", actions, model.ActionAskOperator)
	}
	if got := repo.sessions[1].State; got != model.StateMainMenu {
		t.Fatalf("state = %s, want %s", got, model.StateMainMenu)
	}
}

func TestHandleEvent_AnswerReachesAuthor(t *testing.T) {
	repo := newStubRepo()
	sender := newStubSender()
	b := newTestBot(repo, sender, nil, nil, nil)
	setSession(repo, 900, model.StateAwaitingOperatorAnswer, "")

	b.HandleEvent(context.Background(), transport.Event{
		Identity:    900,
		Text:        "Да, есть в наличии.",
		ReplyToText: "Вопрос от пользователя 42:\nЕсть ли молотки?",
	})

	toUser := sender.sentTo(42)
	if len(toUser) != 1 {
		t.Fatalf("messages to author = %d, want 1", len(toUser))
	}
	if !strings.Contains(toUser[0].text, "Да, есть в наличии.") {
		t.Fatalf("answer = %q, want operator text", toUser[0].text)
	}

	actions := repo.auditActions()
	if len(actions) != 1 || actions[0] != model.ActionAnswer {
		t.Fatalf("audit actions = %v, want [%d]", actions, model.ActionAnswer)
	}
}

func TestHandleEvent_MasterBalance(t *testing.T) {
	repo := newStubRepo()
	repo.masterCards[1] = "12345678"
	sender := newStubSender()
	cards := &stubCards{customers: map[string]*model.CustomerRecord{
		"12345678": {CardNumber: "12345678", Segment: model.SegmentMaster, Balance: "152,30"},
	}}
	b := newTestBot(repo, sender, nil, cards, nil)
	setSession(repo, 1, model.StateMainMenu, "")

	b.HandleEvent(context.Background(), transport.Event{Identity: 1, Text: btnMasterBalance})

	last := sender.last()
	if !strings.Contains(last.text, "152,30") {
		t.Fatalf("reply = %q, want balance", last.text)
	}
	actions := repo.auditActions()
	if len(actions) != 1 || actions[0] != model.ActionCardBalance {
		t.Fatalf("audit actions = %v, want [%d]", actions, model.ActionCardBalance)
	}
}

// TestTransitions_EveryCommandRoleAndState прогоняет каждую команду таблицы
// переходов через все роли и все состояния меню: разрешённая комбинация
// выполняет обработчик, запрет по роли молча возвращает в главное меню,
// запрет по состоянию не запускает обработчик.
func TestTransitions_EveryCommandRoleAndState(t *testing.T) {
	menuStates := []model.State{
		model.StateMainMenu,
		model.StateMarketingMenu,
		model.StateStatisticsMenu,
		model.StateBroadcastMenu,
	}
	roles := []struct {
		name     string
		identity int64
		role     model.RoleClass
	}{
		{"guest", 1, model.RoleGuest},
		{"cardholder", 2, model.RoleCardHolder},
		{"operator", 900, model.RoleOperator},
		{"admin", 500, model.RoleAdmin},
	}

	// Отличительный фрагмент ответа каждого обработчика.
	replies := map[string]string{
		btnSearch:          msgSearchPrompt,
		btnCard:            msgCardPrompt,
		btnAsk:             msgAskPrompt,
		btnAnswer:          msgAnswerPrompt,
		btnInfo:            "Наши магазины",
		btnVisit:           "Наш сайт",
		btnMasterBalance:   "не привязана",
		btnMarketing:       "Меню маркетинга",
		btnStatistics:      "Меню статистики",
		btnBroadcastMenu:   "Выберите аудиторию",
		btnStatUsers:       "Пользователей:",
		btnStatSearches:    "Поисковые запросы:",
		btnStatBroadcasts:  "Доставлено сообщений",
		btnStatQueries:     "запросов пока не было",
		btnStatPeak:        "активности пока нет",
		btnBroadcastAll:    msgPayload,
		btnSegFamily:       msgPayload,
		btnSegMaster:       msgPayload,
		btnSegHome:         msgPayload,
		btnSegFamilyHome:   msgPayload,
		btnAllExceptMaster: msgPayload,
	}

	table := newTestBot(newStubRepo(), newStubSender(), nil, nil, nil).transitions()
	if len(table) != len(replies) {
		t.Fatalf("transitions = %d commands, expected replies for %d", len(table), len(replies))
	}

	for command, tr := range table {
		want, ok := replies[command]
		if !ok {
			t.Fatalf("no expected reply for command %q", command)
		}
		for _, rc := range roles {
			for _, state := range menuStates {
				repo := newStubRepo()
				sender := newStubSender()
				b := newTestBot(repo, sender, nil, nil, nil)
				if rc.role == model.RoleCardHolder {
					repo.memberOf[rc.identity] = model.SegmentFamily
				}
				setSession(repo, rc.identity, state, "")

				b.HandleEvent(context.Background(), transport.Event{Identity: rc.identity, Text: command})

				allowed := stateAllowed(tr, state) && roleAllowed(tr, rc.role)
				last := sender.last()
				if allowed && !strings.Contains(last.text, want) {
					t.Fatalf("%s / %s / %s: reply = %q, want %q",
						command, rc.name, state, last.text, want)
				}
				if !allowed && strings.Contains(last.text, want) {
					t.Fatalf("%s / %s / %s: reply = %q, handler must not run",
						command, rc.name, state, last.text)
				}
				if stateAllowed(tr, state) && !roleAllowed(tr, rc.role) {
					if last.text != "Главное меню" {
						t.Fatalf("%s / %s / %s: reply = %q, want silent main menu redirect",
							command, rc.name, state, last.text)
					}
					if got := repo.sessions[rc.identity].State; got != model.StateMainMenu {
						t.Fatalf("%s / %s / %s: state = %s, want %s",
							command, rc.name, state, got, model.StateMainMenu)
					}
				}
			}
		}
	}
}

func TestMaskStopWords(t *testing.T) {
	tests := []struct {
		text  string
		words []string
		want  string
	}{
		{"привет", nil, "привет"},
		{"Ты дурак", []string{"дурак"}, "Ты *****"},
		{"ДУРАК и дурак", []string{"дурак"}, "***** и *****"},
		{"чистый текст", []string{"мат"}, "чистый текст"},
	}

	for _, tt := range tests {
		if got := maskStopWords(tt.text, tt.words); got != tt.want {
			t.Fatalf("maskStopWords(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
