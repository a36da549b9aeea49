package validator

import (
	"bulk_orders/internal/model"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultMaxCapacityGB - верхняя граница объема пакета по умолчанию.
const DefaultMaxCapacityGB = 100

// prefixNetworks - таблица префиксов номеров по операторам.
var prefixNetworks = map[string]model.Network{
	"024": model.NetworkMTN,
	"025": model.NetworkMTN,
	"053": model.NetworkMTN,
	"054": model.NetworkMTN,
	"055": model.NetworkMTN,
	"059": model.NetworkMTN,
	"026": model.NetworkAirtelTigo,
	"027": model.NetworkAirtelTigo,
	"056": model.NetworkAirtelTigo,
	"057": model.NetworkAirtelTigo,
	"020": model.NetworkTelecel,
	"050": model.NetworkTelecel,
}

// RowValidator превращает RawEntry в BulkOrderRow. Не имеет состояния
// и никогда не возвращает ошибку: причина отказа пишется в строку.
type RowValidator struct {
	maxCapacity decimal.Decimal
}

// NewRowValidator создает валидатор строк. maxCapacityGB <= 0 означает значение по умолчанию.
func NewRowValidator(maxCapacityGB float64) *RowValidator {
	if maxCapacityGB <= 0 {
		maxCapacityGB = DefaultMaxCapacityGB
	}
	return &RowValidator{maxCapacity: decimal.NewFromFloat(maxCapacityGB)}
}

// Validate проверяет одну строку. При нескольких ошибках возвращается первая
// в порядке: номер, оператор, объем.
func (v *RowValidator) Validate(entry model.RawEntry) model.BulkOrderRow {
	row := model.BulkOrderRow{
		Line:     entry.Line,
		RawPhone: entry.RawPhone,
		Capacity: strings.TrimSpace(entry.Capacity),
	}

	if entry.Err != "" {
		row.Error = entry.Err
		return row
	}

	phone, ok := NormalizePhone(entry.RawPhone)
	if !ok {
		row.Error = model.ErrInvalidPhone
		return row
	}
	row.Phone = phone

	network, errMsg := resolveNetwork(phone, strings.TrimSpace(entry.Network))
	if errMsg != "" {
		row.Error = errMsg
		return row
	}
	row.Network = network

	capacity, ok := v.parseCapacity(row.Capacity)
	if !ok {
		row.Error = model.ErrInvalidCapacity
		return row
	}
	row.Capacity = capacity
	row.Valid = true

	return row
}

// ValidateAll проверяет строки с сохранением порядка.
func (v *RowValidator) ValidateAll(entries []model.RawEntry) []model.BulkOrderRow {
	rows := make([]model.BulkOrderRow, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, v.Validate(entry))
	}
	return rows
}

// NormalizePhone приводит номер к местному 10-значному формату 0XXXXXXXXX.
// Принимаются также +233XXXXXXXXX и 9 цифр без ведущего нуля (так номер
// сохраняют таблицы).
func NormalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 10 && digits[0] == '0':
		return digits, true
	case len(digits) == 12 && strings.HasPrefix(digits, "233"):
		return "0" + digits[3:], true
	case len(digits) == 9 && digits[0] != '0':
		return "0" + digits, true
	}
	return "", false
}

// DetectNetwork определяет оператора по префиксу нормализованного номера.
func DetectNetwork(phone string) (model.Network, bool) {
	if len(phone) < 3 {
		return "", false
	}
	network, ok := prefixNetworks[phone[:3]]
	return network, ok
}

// Явно указанный оператор всегда важнее определенного по префиксу.
func resolveNetwork(phone, supplied string) (model.Network, string) {
	if supplied != "" {
		network, ok := model.ParseNetwork(supplied)
		if !ok {
			return "", model.ErrInvalidNetwork
		}
		return network, ""
	}

	network, ok := DetectNetwork(phone)
	if !ok {
		return "", model.ErrUndetectedNetwork
	}
	return network, ""
}

func (v *RowValidator) parseCapacity(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if len(s) > 2 && strings.EqualFold(s[len(s)-2:], "gb") {
		s = strings.TrimSpace(s[:len(s)-2])
	}
	if s == "" {
		return "", false
	}

	value, err := decimal.NewFromString(s)
	if err != nil {
		return "", false
	}
	if !value.IsPositive() || value.GreaterThan(v.maxCapacity) {
		return "", false
	}
	return value.String(), true
}

// CapacityGB возвращает объем валидной строки числом для внешнего API.
func CapacityGB(row model.BulkOrderRow) float64 {
	value, err := decimal.NewFromString(row.Capacity)
	if err != nil {
		return 0
	}
	f, _ := value.Float64()
	return f
}
