// Package model содержит доменные сущности бота-ассистента магазина.
package model

import "time"

// SegmentID идентифицирует сегмент дисконтной программы.
type SegmentID string

// Коды сегментов дисконтных карт из учётной системы магазина.
const (
	SegmentFamily   SegmentID = "ЦУ0000001"
	SegmentMaster   SegmentID = "Р00000002"
	SegmentEmployee SegmentID = "ЦУ0000003"
	SegmentHome     SegmentID = "ЦУ0000004"
	SegmentVIP      SegmentID = "ЦУ0000005"
)

// SegmentName возвращает отображаемое название сегмента.
func SegmentName(id SegmentID) string {
	switch id {
	case SegmentFamily:
		return "Семейная"
	case SegmentMaster:
		return "Мастер"
	case SegmentEmployee:
		return "Сотрудники"
	case SegmentHome:
		return "Домовёнок"
	case SegmentVIP:
		return "VIP -8%"
	}
	return ""
}

// KnownSegments перечисляет все сегменты дисконтных карт.
var KnownSegments = []SegmentID{
	SegmentFamily,
	SegmentMaster,
	SegmentEmployee,
	SegmentHome,
	SegmentVIP,
}

// RoleClass описывает класс роли пользователя, определяющий доступные команды.
type RoleClass int

const (
	RoleGuest RoleClass = iota
	RoleCardHolder
	RoleOperator
	RoleAdmin
)

// State описывает состояние диалога пользователя.
type State string

// Состояния конечного автомата диалога.
const (
	StateAwaitingConsent          State = "awaiting_consent"
	StateMainMenu                 State = "main_menu"
	StateAwaitingProductQuery     State = "awaiting_product_query"
	StateAwaitingCardInput        State = "awaiting_card_input"
	StateAwaitingOperatorQuestion State = "awaiting_operator_question"
	StateAwaitingOperatorAnswer   State = "awaiting_operator_answer"
	StateAwaitingBroadcastPayload State = "awaiting_broadcast_payload"
	StateMarketingMenu            State = "marketing_menu"
	StateStatisticsMenu           State = "statistics_menu"
	StateBroadcastMenu            State = "broadcast_menu"
)

// Session хранит состояние диалога одного пользователя.
// Поле Pending используется состоянием рассылки для хранения селектора аудитории.
type Session struct {
	Identity  int64
	State     State
	Pending   string
	UpdatedAt time.Time
}

// ActionCode нумерует учитываемые действия пользователя в журнале аудита.
type ActionCode int

// Коды действий журнала аудита. Нумерация унаследована от учётной системы
// и используется отчётами, менять её нельзя.
const (
	ActionConsent      ActionCode = 1
	ActionCardBalance  ActionCode = 6
	ActionBroadcast    ActionCode = 23
	ActionWordSearch   ActionCode = 30
	ActionCodeSearch   ActionCode = 31
	ActionBarcodeText  ActionCode = 32
	ActionBarcodePhoto ActionCode = 33
	ActionCardPhoto    ActionCode = 34
	ActionCardText     ActionCode = 35
	ActionAskOperator  ActionCode = 37
	ActionAnswer       ActionCode = 38
)

// AuditRecord описывает одну запись журнала аудита — единственный источник
// данных для последующей статистики.
type AuditRecord struct {
	Identity   int64
	Segment    SegmentID
	Action     ActionCode
	IsSearch   bool
	OccurredAt time.Time
	Query      string
	Success    bool
}

// PayloadKind описывает тип содержимого рассылки.
type PayloadKind int

const (
	PayloadText PayloadKind = iota + 1
	PayloadPhoto
	PayloadVideo
)

// BroadcastPayload содержит содержимое рассылки: ровно одно поле должно быть заполнено.
type BroadcastPayload struct {
	Text     string
	PhotoRef string
	VideoRef string
	Caption  string
}

// Kind возвращает тип заполненного содержимого и признак его корректности.
func (p BroadcastPayload) Kind() (PayloadKind, bool) {
	set := 0
	var kind PayloadKind
	if p.Text != "" {
		set++
		kind = PayloadText
	}
	if p.PhotoRef != "" {
		set++
		kind = PayloadPhoto
	}
	if p.VideoRef != "" {
		set++
		kind = PayloadVideo
	}
	return kind, set == 1
}

// Publication описывает запись журнала публикаций об успешно доставленном
// сообщении рассылки.
type Publication struct {
	MessageID   string
	Kind        PayloadKind
	Segment     SegmentID
	Recipient   int64
	PublishedAt time.Time
}

// StockLine описывает остаток товара в одном магазине.
type StockLine struct {
	Location string
	Quantity string
	Unit     string
}

// ProductCard — карточка товара, собранная конвейером поиска.
type ProductCard struct {
	Name        string
	Description string
	Price       string
	Stock       []StockLine
	Attributes  []Attribute
	Category    string
	DetailURL   string
	ImageURL    string
}

// Attribute — одна характеристика товара.
type Attribute struct {
	Name string
	Text string
}

// CustomerRecord — запись о покупателе из каталога, найденная по номеру карты.
type CustomerRecord struct {
	CardNumber string
	Segment    SegmentID
	ExpiresAt  string
	Balance    string
}
