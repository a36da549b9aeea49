package generator

import (
	"bulk_orders/internal/model"
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
)

var (
	prefixes = map[model.Network][]string{
		model.NetworkMTN:        {"024", "025", "053", "054", "055", "059"},
		model.NetworkAirtelTigo: {"026", "027", "056", "057"},
		model.NetworkTelecel:    {"020", "050"},
	}
	capacities = []string{"0.5", "1", "1.5", "2", "3", "5", "10", "20", "5GB", "10gb"}
)

// Generator создает тестовые пакеты заказов для ручных прогонов и продюсера.
type Generator struct {
	faker *gofakeit.Faker
}

// New создает генератор. seed = 0 дает случайную последовательность.
func New(seed int64) *Generator {
	return &Generator{faker: gofakeit.New(seed)}
}

// Phone возвращает номер оператора в одном из форматов, которые принимает валидатор.
func (g *Generator) Phone(network model.Network) string {
	prefix := g.faker.RandomString(prefixes[network])
	local := prefix + g.faker.Numerify("#######")
	switch g.faker.Number(0, 2) {
	case 0:
		return "+233" + local[1:]
	case 1:
		return local[1:] // так номер сохраняют таблицы: без ведущего нуля
	default:
		return local
	}
}

// ValidLine возвращает строку, которая пройдет проверку.
func (g *Generator) ValidLine() string {
	network := model.Networks[g.faker.Number(0, len(model.Networks)-1)]
	phone := g.Phone(network)
	capacity := g.faker.RandomString(capacities)

	sep := g.faker.RandomString([]string{" ", ",", "\t"})
	switch g.faker.Number(0, 2) {
	case 0:
		return strings.Join([]string{phone, string(network), capacity}, sep)
	case 1:
		return strings.Join([]string{phone, capacity, string(network)}, sep)
	default:
		// Оператор определится по префиксу
		return strings.Join([]string{phone, capacity}, sep)
	}
}

// InvalidLine возвращает строку с одной из типичных ошибок ввода.
func (g *Generator) InvalidLine() string {
	phone := g.Phone(model.NetworkMTN)
	switch g.faker.Number(0, 4) {
	case 0:
		return phone // Insufficient data
	case 1:
		return fmt.Sprintf("0%s 5", g.faker.Numerify("######")) // Invalid phone number
	case 2:
		return fmt.Sprintf("%s %s 5", phone, g.faker.RandomString([]string{"mtn", "Vodafone", "airteltigo"})) // Invalid network
	case 3:
		return fmt.Sprintf("021%s 5", g.faker.Numerify("#######")) // Unable to determine network
	default:
		return fmt.Sprintf("%s MTN %s", phone, g.faker.RandomString([]string{"0", "-1", "abc", "500"})) // Invalid capacity
	}
}

// Text собирает пакет из rows строк, где примерно invalidShare строк содержат ошибки.
func (g *Generator) Text(rows int, invalidShare float64) string {
	lines := make([]string, 0, rows)
	for i := 0; i < rows; i++ {
		if g.faker.Float64Range(0, 1) < invalidShare {
			lines = append(lines, g.InvalidLine())
		} else {
			lines = append(lines, g.ValidLine())
		}
	}
	return strings.Join(lines, "\n")
}

// BatchRequest создает сообщение для Kafka-топика пакетов.
func (g *Generator) BatchRequest(rows int, invalidShare float64) model.BatchRequest {
	return model.BatchRequest{
		AgentID: "agent-" + strings.ToLower(g.faker.Username()),
		Text:    g.Text(rows, invalidShare),
	}
}
