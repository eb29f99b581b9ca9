// Package pipeline реализует конвейер поиска товара: от классифицированного
// запроса до набора карточек товара.
package pipeline

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"retail-assistant/internal/catalog"
	"retail-assistant/internal/classify"
	"retail-assistant/internal/model"
)

// Адреса магазинов в порядке, в котором каталог возвращает остатки.
var storeLocations = []string{
	"Гродно, пр. Космонавтов 2Г",
	"Гродно, ул. Дзержинского 118",
}

const maxCards = 3

// Outcome описывает исход разрешения запроса.
type Outcome int

const (
	// OutcomeFound — найдена хотя бы одна карточка.
	OutcomeFound Outcome = iota
	// OutcomeNotFound — каталог не вернул совпадений либо запрос отклонён.
	OutcomeNotFound
	// OutcomeUpstreamError — сбой каталога; пользователю показывается
	// то же сообщение «ничего не найдено».
	OutcomeUpstreamError
)

// Resolution — результат разрешения запроса.
type Resolution struct {
	Outcome Outcome
	Cards   []model.ProductCard
}

// Catalog описывает операции каталога, используемые конвейером.
type Catalog interface {
	Search(ctx context.Context, text string) ([]catalog.ProductSummary, error)
	Product(ctx context.Context, productID string) (*catalog.ProductDetail, error)
	Attributes(ctx context.Context, productID string) ([]catalog.Attribute, error)
	Quantity(ctx context.Context, productID string) ([]catalog.LocationQuantity, error)
	ImageExists(ctx context.Context, imageURL string) bool
}

// Pipeline собирает карточки товара из ответов каталога.
type Pipeline struct {
	catalog  Catalog
	logger   *zap.Logger
	imageURL string
}

// New создаёт конвейер поиска с указанным клиентом каталога.
// imageURL — базовый адрес изображений товаров.
func New(c Catalog, logger *zap.Logger, imageURL string) *Pipeline {
	return &Pipeline{
		catalog:  c,
		logger:   logger,
		imageURL: imageURL,
	}
}

// Resolve разрешает классифицированный запрос в набор карточек.
// Любой сбой каталога превращается в OutcomeUpstreamError и не выходит
// за границы конвейера.
func (p *Pipeline) Resolve(ctx context.Context, q classify.Query) *Resolution {
	// Цифровой текст никогда не считается словесным запросом.
	if q.Kind == classify.KindWord && classify.IsDigits(q.Value) {
		return &Resolution{Outcome: OutcomeNotFound}
	}
	if q.Kind == classify.KindUnrecognized || q.Value == "" {
		return &Resolution{Outcome: OutcomeNotFound}
	}

	summaries, err := p.catalog.Search(ctx, q.Value)
	if err != nil {
		p.logger.Error("catalog search failed", zap.String("query", q.Value), zap.Error(err))
		return &Resolution{Outcome: OutcomeUpstreamError}
	}

	if len(summaries) == 0 {
		return &Resolution{Outcome: OutcomeNotFound}
	}

	if q.Kind == classify.KindBarcode {
		return p.resolveBarcode(ctx, q.Value, summaries[0])
	}

	return p.resolveListing(ctx, summaries)
}

// resolveListing собирает карточки для словесного запроса и кода товара:
// одна карточка дополняется изображением, две и более выводятся сокращённым
// списком, не больше трёх.
func (p *Pipeline) resolveListing(ctx context.Context, summaries []catalog.ProductSummary) *Resolution {
	single := len(summaries) == 1

	if len(summaries) > maxCards {
		summaries = summaries[:maxCards]
	}

	cards := make([]model.ProductCard, 0, len(summaries))
	for _, s := range summaries {
		card, err := p.buildCard(ctx, s, single)
		if err != nil {
			p.logger.Error("build card failed", zap.String("productID", s.ProductID), zap.Error(err))
			return &Resolution{Outcome: OutcomeUpstreamError}
		}
		cards = append(cards, *card)
	}

	return &Resolution{Outcome: OutcomeFound, Cards: cards}
}

// resolveBarcode собирает одну подробную карточку: запрос по штрихкоду
// считается однозначным.
func (p *Pipeline) resolveBarcode(ctx context.Context, barcode string, s catalog.ProductSummary) *Resolution {
	card, err := p.buildCard(ctx, s, true)
	if err != nil {
		p.logger.Error("build barcode card failed",
			zap.String("barcode", barcode), zap.String("productID", s.ProductID), zap.Error(err))
		return &Resolution{Outcome: OutcomeUpstreamError}
	}

	attrs, err := p.catalog.Attributes(ctx, s.ProductID)
	if err != nil {
		p.logger.Error("catalog attributes failed", zap.String("productID", s.ProductID), zap.Error(err))
		return &Resolution{Outcome: OutcomeUpstreamError}
	}
	for _, a := range attrs {
		card.Attributes = append(card.Attributes, model.Attribute{Name: a.Name, Text: a.Text})
	}

	return &Resolution{Outcome: OutcomeFound, Cards: []model.ProductCard{*card}}
}

func (p *Pipeline) buildCard(ctx context.Context, s catalog.ProductSummary, withImage bool) (*model.ProductCard, error) {
	detail, err := p.catalog.Product(ctx, s.ProductID)
	if err != nil {
		return nil, err
	}

	quantities, err := p.catalog.Quantity(ctx, s.ProductID)
	if err != nil {
		return nil, err
	}

	unit := strings.ReplaceAll(detail.UPC, "/", "")

	stock := make([]model.StockLine, 0, len(storeLocations))
	for i, loc := range storeLocations {
		qty := "0"
		if i < len(quantities) {
			qty = FormatQuantity(quantities[i].Quantity)
		}
		stock = append(stock, model.StockLine{Location: loc, Quantity: qty, Unit: unit})
	}

	card := &model.ProductCard{
		Name:        s.Name,
		Description: s.Description,
		Price:       detail.SKU,
		Stock:       stock,
		Category:    detail.Category,
		DetailURL:   s.URL,
	}

	if withImage && detail.Image != "" {
		imgURL := p.imageURL + detail.Image
		if p.catalog.ImageExists(ctx, imgURL) {
			card.ImageURL = imgURL
		}
	}

	return card, nil
}

// FormatQuantity форматирует остаток товара: целые значения без дробной
// части, прочие с тремя знаками; разделитель тысяч — запятая, десятичный
// разделитель — тоже запятая, как в учётной системе.
func FormatQuantity(raw string) string {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return "0"
	}

	var s string
	if v == float64(int64(v)) {
		s = strconv.FormatInt(int64(v), 10)
	} else {
		s = strconv.FormatFloat(v, 'f', 3, 64)
		s = strings.Replace(s, ".", ",", 1)
	}

	return addThousands(s)
}

// addThousands вставляет разделители тысяч в целую часть числа.
func addThousands(s string) string {
	intPart := s
	rest := ""
	if i := strings.IndexAny(s, ","); i >= 0 {
		intPart, rest = s[:i], s[i:]
	}

	neg := false
	if strings.HasPrefix(intPart, "-") {
		neg = true
		intPart = intPart[1:]
	}

	n := len(intPart)
	if n <= 3 {
		if neg {
			return "-" + intPart + rest
		}
		return intPart + rest
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	first := n % 3
	if first > 0 {
		b.WriteString(intPart[:first])
	}
	for i := first; i < n; i += 3 {
		if b.Len() > 0 && !(neg && b.Len() == 1) {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	b.WriteString(rest)
	return b.String()
}
