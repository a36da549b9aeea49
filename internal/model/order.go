package model

import "time"

// Network - мобильный оператор, для которого принимаются заказы пакетов.
type Network string

const (
	NetworkMTN        Network = "MTN"
	NetworkAirtelTigo Network = "AirtelTigo"
	NetworkTelecel    Network = "Telecel"
)

// Networks - закрытый набор поддерживаемых операторов.
var Networks = []Network{NetworkMTN, NetworkAirtelTigo, NetworkTelecel}

// ParseNetwork проверяет точное (с учетом регистра) совпадение с одним из операторов.
func ParseNetwork(s string) (Network, bool) {
	for _, n := range Networks {
		if string(n) == s {
			return n, true
		}
	}
	return "", false
}

// SourceMode - способ, которым агент передал пакет.
type SourceMode string

const (
	SourceFile SourceMode = "file"
	SourceText SourceMode = "text"
)

// Wire возвращает значение поля source для внешнего API.
func (m SourceMode) Wire() string {
	if m == SourceFile {
		return "csv"
	}
	return "text"
}

// Ошибки уровня строки. Тексты показываются пользователю как есть.
const (
	ErrInsufficientData  = "Insufficient data"
	ErrInvalidPhone      = "Invalid phone number"
	ErrInvalidNetwork    = "Invalid network"
	ErrUndetectedNetwork = "Unable to determine network"
	ErrInvalidCapacity   = "Invalid capacity"
)

// RawEntry - одна строка ввода после позиционного разбора, до валидации.
type RawEntry struct {
	Line     int    `json:"line"`
	RawPhone string `json:"raw_phone"`
	Network  string `json:"network,omitempty"`
	Capacity string `json:"capacity,omitempty"`
	Err      string `json:"error,omitempty"`
}

// BulkOrderRow - нормализованная и провалидированная строка заказа.
type BulkOrderRow struct {
	Line     int     `json:"line"`
	Phone    string  `json:"phone"`
	Network  Network `json:"network"`
	Capacity string  `json:"capacity"`
	RawPhone string  `json:"raw_phone"`
	Valid    bool    `json:"valid"`
	Error    string  `json:"error,omitempty"`
}

// BatchState - состояние жизненного цикла пакета.
type BatchState string

const (
	StateParsed     BatchState = "parsed"
	StateConfirmed  BatchState = "confirmed"
	StateSubmitting BatchState = "submitting"
)

// Batch - пакет строк, загруженный из одного файла или одного текста.
type Batch struct {
	ID        string         `json:"id"`
	Source    SourceMode     `json:"source"`
	FileName  string         `json:"file_name,omitempty"`
	Rows      []BulkOrderRow `json:"rows"`
	State     BatchState     `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Partition делит строки пакета на валидные и невалидные с сохранением порядка.
func (b *Batch) Partition() (valid, invalid []BulkOrderRow) {
	for _, row := range b.Rows {
		if row.Valid {
			valid = append(valid, row)
		} else {
			invalid = append(invalid, row)
		}
	}
	return valid, invalid
}
