// Package classify содержит классификацию пользовательского ввода для поиска товара.
package classify

import "strings"

// Kind определяет вид распознанного запроса.
type Kind int

const (
	// KindUnrecognized — пустой или нераспознаваемый ввод.
	KindUnrecognized Kind = iota
	// KindWord — словесный поисковый запрос.
	KindWord
	// KindCode — код товара (цифровая строка произвольной длины).
	KindCode
	// KindBarcode — штрихкод EAN-8 или EAN-13.
	KindBarcode
)

// Query — результат классификации ввода.
type Query struct {
	Kind  Kind
	Value string
}

// IsDigits сообщает, состоит ли строка только из десятичных цифр.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Classify определяет вид запроса по тексту. Правила применяются по порядку:
// цифровая строка длиной 8 или 13 — штрихкод; любая другая цифровая строка —
// код товара; наличие нецифрового символа — словесный запрос; пустой или
// пробельный ввод не распознаётся.
func Classify(raw string) Query {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Query{Kind: KindUnrecognized}
	}

	if IsDigits(text) {
		if len(text) == 8 || len(text) == 13 {
			return Query{Kind: KindBarcode, Value: text}
		}
		return Query{Kind: KindCode, Value: text}
	}

	return Query{Kind: KindWord, Value: text}
}
