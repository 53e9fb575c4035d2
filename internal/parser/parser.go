// Package parser 实现按文件名分发的校验/解析注册表。
// 每个 Parser 负责一类 CSV 文件：按命名约定判断归属，把文件内容解析为
// 已校验的表结构，或者返回一条可读的失败原因（该原因最终会写入隔离区的
// .error.txt 中）。
package parser

import (
	"cml-pipeline-go/internal/model"
)

// FileType 是解析器处理的逻辑文件类型。
type FileType string

const (
	// FileTypeRawData 表示时间序列观测数据文件
	FileTypeRawData FileType = "rawdata"
	// FileTypeMetadata 表示链路参考元数据文件
	FileTypeMetadata FileType = "metadata"
)

// Table 是解析成功后的表格结果。
// Type 标记内容类型，两个切片按类型只填其一，避免反射或 any。
type Table struct {
	Type     FileType
	Metadata []model.CMLMetadata
	RawData  []model.CMLData
}

// Rows 返回表中的数据行数。
func (t *Table) Rows() int {
	if t == nil {
		return 0
	}
	if t.Type == FileTypeMetadata {
		return len(t.Metadata)
	}
	return len(t.RawData)
}

// Parser 是单一文件类型解析器必须实现的接口。
type Parser interface {
	// CanParse 根据文件名（不含目录）判断本解析器是否处理该文件
	CanParse(filename string) bool
	// Parse 把文件字节解析为已校验的 Table；失败时 error 为人类可读的原因
	Parse(data []byte) (*Table, error)
	// FileType 返回本解析器的逻辑文件类型
	FileType() FileType
}

// Registry 持有按顺序尝试的解析器列表。
type Registry struct {
	parsers []Parser
}

// NewRegistry 创建包含全部已知解析器的注册表。
// 解析器在此显式实例化；顺序即匹配优先级。
func NewRegistry() *Registry {
	return &Registry{
		parsers: []Parser{
			NewRawDataParser(),
			NewMetadataParser(),
		},
	}
}

// GetParser 返回第一个声明能处理该文件名的解析器；无人认领时返回 nil，
// 调用方应将文件按“不支持的类型”隔离。
func (r *Registry) GetParser(filename string) Parser {
	for _, p := range r.parsers {
		if p.CanParse(filename) {
			return p
		}
	}
	return nil
}

// SupportedExtensions 返回 watcher 关注的扩展名集合。
func (r *Registry) SupportedExtensions() []string {
	return []string{".csv"}
}
