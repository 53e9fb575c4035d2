package parser

import (
	"fmt"
	"regexp"

	"cml-pipeline-go/internal/model"
)

// metadataPattern 匹配链路元数据文件名，如 cml_metadata_20240101.csv。
var metadataPattern = regexp.MustCompile(`(?i)^cml_metadata_.*\.csv$`)

// metadataRequiredColumns 是元数据 CSV 必须包含的列。
// 扩展格式额外携带 sublink_id、frequency、polarization、length，均为可选列。
var metadataRequiredColumns = []string{"link_id", "site_0_lon", "site_0_lat", "site_1_lon", "site_1_lat"}

// MetadataParser 解析 CML 链路元数据的 CSV 文件。
type MetadataParser struct{}

// NewMetadataParser 创建一个元数据解析器。
func NewMetadataParser() *MetadataParser {
	return &MetadataParser{}
}

// CanParse 按文件名模式判断归属。
func (p *MetadataParser) CanParse(filename string) bool {
	return metadataPattern.MatchString(filename)
}

// FileType 返回 metadata。
func (p *MetadataParser) FileType() FileType {
	return FileTypeMetadata
}

// Parse 解析并校验元数据 CSV。
// 坐标校验是文件级通过/失败：任何一个非空值越界，或某个坐标列全为空，
// 都使整个文件失败，错误信息点名出问题的列。
func (p *MetadataParser) Parse(data []byte) (*Table, error) {
	header, records, err := readCSV(data)
	if err != nil {
		return nil, fmt.Errorf("Failed to read CSV: %v", err)
	}

	idx, missing := columnIndex(header, metadataRequiredColumns)
	if len(missing) > 0 {
		return nil, fmt.Errorf("Missing required columns: %v", missing)
	}

	// 可选的扩展列，缺失时下标为 -1
	sublinkIdx := optionalColumn(idx, "sublink_id")
	frequencyIdx := optionalColumn(idx, "frequency")
	polarizationIdx := optionalColumn(idx, "polarization")
	lengthIdx := optionalColumn(idx, "length")

	rows := make([]model.CMLMetadata, 0, len(records))
	for _, rec := range records {
		row := model.CMLMetadata{
			LinkID:    stringOrNaN(field(rec, idx["link_id"])),
			SublinkID: field(rec, sublinkIdx),
			Site0Lon:  parseNullableFloat(field(rec, idx["site_0_lon"])),
			Site0Lat:  parseNullableFloat(field(rec, idx["site_0_lat"])),
			Site1Lon:  parseNullableFloat(field(rec, idx["site_1_lon"])),
			Site1Lat:  parseNullableFloat(field(rec, idx["site_1_lat"])),
			Frequency: parseNullableFloat(field(rec, frequencyIdx)),
			Length:    parseNullableFloat(field(rec, lengthIdx)),
		}
		if s := field(rec, polarizationIdx); s != "" {
			row.Polarization = &s
		}
		rows = append(rows, row)
	}

	if err := validateCoordinates(rows); err != nil {
		return nil, err
	}

	return &Table{Type: FileTypeMetadata, Metadata: rows}, nil
}

// optionalColumn 返回可选列的下标，列不存在时为 -1。
func optionalColumn(idx map[string]int, name string) int {
	if i, ok := idx[name]; ok {
		return i
	}
	return -1
}

// coordinateColumn 描述一个待校验的坐标列。
type coordinateColumn struct {
	name     string
	min, max float64
	isLon    bool
	value    func(*model.CMLMetadata) *float64
}

var coordinateColumns = []coordinateColumn{
	{"site_0_lon", -180, 180, true, func(m *model.CMLMetadata) *float64 { return m.Site0Lon }},
	{"site_1_lon", -180, 180, true, func(m *model.CMLMetadata) *float64 { return m.Site1Lon }},
	{"site_0_lat", -90, 90, false, func(m *model.CMLMetadata) *float64 { return m.Site0Lat }},
	{"site_1_lat", -90, 90, false, func(m *model.CMLMetadata) *float64 { return m.Site1Lat }},
}

// validateCoordinates 按列对坐标做文件级校验。
func validateCoordinates(rows []model.CMLMetadata) error {
	if len(rows) == 0 {
		return nil
	}
	for _, col := range coordinateColumns {
		nonNull := 0
		for i := range rows {
			v := col.value(&rows[i])
			if v == nil {
				continue
			}
			nonNull++
			if *v < col.min || *v > col.max {
				return coordError(col)
			}
		}
		// 整列为空说明来源文件已经损坏，同样按无效处理
		if nonNull == 0 {
			return coordError(col)
		}
	}
	return nil
}

func coordError(col coordinateColumn) error {
	kind := "latitude"
	if col.isLon {
		kind = "longitude"
	}
	return fmt.Errorf("Invalid %s values in %s", kind, col.name)
}
