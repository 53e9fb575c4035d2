package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cml-pipeline-go/internal/model"
)

// rawDataPattern 匹配时间序列数据文件名，如 cml_data_20240101_120000.csv。
var rawDataPattern = regexp.MustCompile(`(?i)^cml_data_.*\.csv$`)

// rawDataRequiredColumns 是原始数据 CSV 必须包含的列。
var rawDataRequiredColumns = []string{"time", "link_id", "sublink_id", "tsl", "rsl"}

// 接受的时间戳格式，按顺序尝试；不带时区的格式按 UTC 解释。
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
}

// RawDataParser 解析 CML 时间序列观测数据的 CSV 文件。
type RawDataParser struct{}

// NewRawDataParser 创建一个原始数据解析器。
func NewRawDataParser() *RawDataParser {
	return &RawDataParser{}
}

// CanParse 按文件名模式判断归属。
func (p *RawDataParser) CanParse(filename string) bool {
	return rawDataPattern.MatchString(filename)
}

// FileType 返回 rawdata。
func (p *RawDataParser) FileType() FileType {
	return FileTypeRawData
}

// Parse 解析并校验原始数据 CSV。
// 规则：time 列任何一行解析失败则整个文件失败；link_id 缺失的行
// 保留，值写为字面量 "nan"；tsl/rsl 非数值时置空，不导致失败。
func (p *RawDataParser) Parse(data []byte) (*Table, error) {
	header, records, err := readCSV(data)
	if err != nil {
		return nil, fmt.Errorf("Failed to read CSV: %v", err)
	}

	idx, missing := columnIndex(header, rawDataRequiredColumns)
	if len(missing) > 0 {
		return nil, fmt.Errorf("Missing required columns: %v", missing)
	}

	rows := make([]model.CMLData, 0, len(records))
	for _, rec := range records {
		ts, ok := parseTimestamp(field(rec, idx["time"]))
		if !ok {
			// 与按行丢弃不同：一个坏时间戳使整个文件不可信
			return nil, fmt.Errorf("Invalid timestamps found")
		}

		rows = append(rows, model.CMLData{
			Time:      ts,
			LinkID:    stringOrNaN(field(rec, idx["link_id"])),
			SublinkID: stringOrNaN(field(rec, idx["sublink_id"])),
			TSL:       parseNullableFloat(field(rec, idx["tsl"])),
			RSL:       parseNullableFloat(field(rec, idx["rsl"])),
		})
	}

	return &Table{Type: FileTypeRawData, RawData: rows}, nil
}

// readCSV 读取全部记录，返回表头与数据行。允许行尾出现多余列。
func readCSV(data []byte) ([]string, [][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		records = append(records, rec)
	}
	return header, records, nil
}

// columnIndex 建立 列名→下标 的映射，并返回缺失的必需列。
func columnIndex(header []string, required []string) (map[string]int, []string) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		if _, ok := idx[name]; !ok {
			idx[name] = i
		}
	}
	var missing []string
	for _, name := range required {
		if _, ok := idx[name]; !ok {
			missing = append(missing, name)
		}
	}
	return idx, missing
}

// field 取出记录的第 i 列，行比表头短时视为空。
func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// parseTimestamp 按已知格式依次尝试解析时间戳。
func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// stringOrNaN 把缺失的标识符替换为字面量 "nan"，保留行数不变。
func stringOrNaN(s string) string {
	if s == "" {
		return "nan"
	}
	return s
}

// parseNullableFloat 把非数值/缺失/NaN 的读数置空而不报错。
func parseNullableFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
