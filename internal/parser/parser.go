package parser

import (
	"bulk_orders/internal/model"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// MaxRows - максимальное количество строк в одном пакете.
const MaxRows = 2000

var (
	ErrBatchTooLarge     = fmt.Errorf("batch exceeds %d rows", MaxRows)
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrUnreadableFile    = errors.New("unable to read file")
)

// headerKeywords - признаки строки-заголовка в загруженном файле.
var headerKeywords = []string{"phone", "number", "network", "gigab", "capacity", "gb"}

var spreadsheetExt = map[string]bool{
	".xlsx": true,
	".xlsm": true,
	".xltx": true,
	".xltm": true,
}

// Порядок важен: берется первый найденный в строке разделитель.
var delimiters = []rune{',', '\t', ';', '|'}

type record struct {
	line   int
	fields []string
}

// ParseText разбирает вставленный текст: одна строка - одна запись.
func ParseText(text string) ([]model.RawEntry, error) {
	type line struct {
		number int
		text   string
	}

	var lines []line
	for i, l := range splitLines(text) {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, line{number: i + 1, text: l})
		}
	}

	// Лимит проверяется до разбора полей.
	if len(lines) > MaxRows {
		return nil, ErrBatchTooLarge
	}

	records := make([]record, 0, len(lines))
	for _, l := range lines {
		records = append(records, record{line: l.number, fields: strings.FieldsFunc(l.text, isTextSeparator)})
	}
	return toEntries(records), nil
}

// ParseFile разбирает загруженный файл: таблицу (первый лист) или текст с разделителями.
func ParseFile(name string, r io.Reader) ([]model.RawEntry, error) {
	var (
		records []record
		err     error
	)

	if spreadsheetExt[strings.ToLower(filepath.Ext(name))] {
		records, err = readSpreadsheet(r)
	} else {
		records, err = readDelimited(r)
	}
	if err != nil {
		return nil, err
	}

	records = dropBlank(records)
	if len(records) > 0 && isHeader(records[0].fields) {
		records = records[1:]
	}

	if len(records) > MaxRows {
		return nil, ErrBatchTooLarge
	}

	return toEntries(records), nil
}

func readSpreadsheet(r io.Reader) ([]record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("%w: в книге нет листов", ErrUnreadableFile)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}

	records := make([]record, 0, len(rows))
	for i, row := range rows {
		records = append(records, record{line: i + 1, fields: row})
	}
	return records, nil
}

func readDelimited(r io.Reader) ([]record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	if !utf8.Valid(data) {
		return nil, ErrUnsupportedFormat
	}

	text := strings.TrimPrefix(string(data), "\ufeff")
	lines := splitLines(text)
	records := make([]record, 0, len(lines))
	for i, line := range lines {
		records = append(records, record{line: i + 1, fields: splitDelimited(line)})
	}
	return records, nil
}

// splitDelimited делит строку файла по первому найденному разделителю.
// Строка без разделителей делится по пробелам, как вставленный текст.
func splitDelimited(line string) []string {
	for _, d := range delimiters {
		if !strings.ContainsRune(line, d) {
			continue
		}
		reader := csv.NewReader(strings.NewReader(line))
		reader.Comma = d
		reader.LazyQuotes = true
		reader.TrimLeadingSpace = true
		fields, err := reader.Read()
		if err != nil {
			return strings.Split(line, string(d))
		}
		return fields
	}
	return strings.Fields(line)
}

// lineBreaks приводит переводы строк Windows и классического Mac OS к "\n".
var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func splitLines(text string) []string {
	return strings.Split(lineBreaks.Replace(text), "\n")
}

func isTextSeparator(r rune) bool {
	return unicode.IsSpace(r) || r == ','
}

func dropBlank(records []record) []record {
	out := records[:0]
	for _, rec := range records {
		if len(usable(rec.fields)) > 0 {
			out = append(out, rec)
		}
	}
	return out
}

// isHeader: ячейка без цифр, содержащая одно из ключевых слов.
// Ячейки вида "5GB" заголовком не считаются.
func isHeader(cells []string) bool {
	for _, cell := range cells {
		c := strings.ToLower(strings.TrimSpace(cell))
		if c == "" || strings.ContainsAny(c, "0123456789") {
			continue
		}
		for _, kw := range headerKeywords {
			if strings.Contains(c, kw) {
				return true
			}
		}
	}
	return false
}

func usable(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(strings.Trim(f, `"`)); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func toEntries(records []record) []model.RawEntry {
	entries := make([]model.RawEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, toEntry(rec))
	}
	return entries
}

func toEntry(rec record) model.RawEntry {
	fields := usable(rec.fields)
	if len(fields) < 2 {
		entry := model.RawEntry{Line: rec.line, Err: model.ErrInsufficientData}
		if len(fields) == 1 {
			entry.RawPhone = fields[0]
		}
		return entry
	}

	var third string
	if len(fields) > 2 {
		third = fields[2]
	}
	network, capacity := disambiguate(fields[1], third)

	return model.RawEntry{
		Line:     rec.line,
		RawPhone: fields[0],
		Network:  network,
		Capacity: capacity,
	}
}

// disambiguate решает, какое из полей - оператор, а какое - объем.
// Объем, совпадающий с названием оператора, будет прочитан как оператор.
func disambiguate(second, third string) (network, capacity string) {
	if _, ok := model.ParseNetwork(second); ok {
		return second, third
	}
	if _, ok := model.ParseNetwork(third); ok {
		return third, second
	}

	// Ни одно поле не совпало точно: нечисловое поле считаем указанным
	// оператором, чтобы "mtn" дал ошибку оператора, а не потерялся.
	if second != "" && third != "" {
		secondNum, thirdNum := looksNumeric(second), looksNumeric(third)
		switch {
		case !secondNum && thirdNum:
			return second, third
		case secondNum && !thirdNum:
			return third, second
		}
	}

	return "", second
}

func looksNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) > 2 && strings.EqualFold(s[len(s)-2:], "gb") {
		s = strings.TrimSpace(s[:len(s)-2])
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
