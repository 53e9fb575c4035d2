// Package pipeline 把解析、入库与文件流转串成单个文件的处理流程。
// 任何失败都把文件送进隔离区并附带诊断说明，成功的文件进入归档区；
// incoming 目录里不允许留下处理过的文件。
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"cml-pipeline-go/internal/filemgr"
	"cml-pipeline-go/internal/parser"
	"cml-pipeline-go/internal/repository"
	"cml-pipeline-go/pkg/kafka"
	"cml-pipeline-go/pkg/log"
	"cml-pipeline-go/pkg/tasks"
)

// 告警日志中最多展示多少个缺失的链路对
const missingPairSample = 10

// Processor 处理单个落入 incoming 目录的文件。
type Processor struct {
	registry *parser.Registry
	writer   repository.CMLWriter
	files    *filemgr.Manager
}

// NewProcessor 创建文件处理器。
func NewProcessor(registry *parser.Registry, writer repository.CMLWriter, files *filemgr.Manager) *Processor {
	return &Processor{registry: registry, writer: writer, files: files}
}

// ProcessFile 执行单个文件的完整处理流程：
// 选择解析器 -> 解析 -> （rawdata 先做引用校验）-> 写库 -> 归档。
// 返回文件的逻辑类型；文件被隔离时返回触发隔离的错误。
func (p *Processor) ProcessFile(path string) (parser.FileType, error) {
	name := filepath.Base(path)
	log.Infof("开始处理文件: %s", name)

	psr := p.registry.GetParser(name)
	if psr == nil {
		reason := fmt.Sprintf("Unsupported file type: %s", name)
		p.quarantine(path, reason)
		return "", fmt.Errorf("%s", reason)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		reason := fmt.Sprintf("Failed to read file: %v", err)
		p.quarantine(path, reason)
		return psr.FileType(), fmt.Errorf("%s", reason)
	}

	table, err := psr.Parse(data)
	if err != nil {
		p.quarantine(path, err.Error())
		return psr.FileType(), err
	}

	rows, err := p.write(table)
	if err != nil {
		reason := fmt.Sprintf("Failed to write %s to database: %v", table.Type, err)
		p.quarantine(path, reason)
		return table.Type, err
	}
	log.Infof("文件 %s 写入完成: %d 行 %s", name, rows, table.Type)

	archived, err := p.files.Archive(path)
	if err != nil {
		// 数据已入库但文件无法归档：隔离并保留诊断信息
		p.quarantine(path, err.Error())
		return table.Type, err
	}

	p.publishEvent(name, table, rows, archived)
	return table.Type, nil
}

// write 按文件类型把解析结果写入数据库，返回写入的行数。
// rawdata 写入前先做元数据引用校验；校验结果只告警，不阻断写入。
func (p *Processor) write(table *parser.Table) (int, error) {
	switch table.Type {
	case parser.FileTypeMetadata:
		return p.writer.WriteMetadata(table.Metadata)
	case parser.FileTypeRawData:
		p.checkReferences(table)
		return p.writer.WriteRawData(table.RawData)
	default:
		return 0, fmt.Errorf("未知的表类型: %s", table.Type)
	}
}

// checkReferences 校验观测数据引用的链路是否都有元数据记录。
// 缺失只说明元数据文件尚未到达，属于正常的乱序场景。
func (p *Processor) checkReferences(table *parser.Table) {
	ok, missing, err := p.writer.ValidateRawdataReferences(table.RawData)
	if err != nil {
		log.Warnf("链路引用校验执行失败，跳过校验: %v", err)
		return
	}
	if ok {
		return
	}
	sample := missing
	if len(sample) > missingPairSample {
		sample = sample[:missingPairSample]
	}
	log.Warnw("观测数据引用了尚无元数据的链路",
		"missing_count", len(missing),
		"sample", fmt.Sprintf("%v", sample),
	)
}

// quarantine 把文件送入隔离区。隔离本身的失败只记日志，处理流程不再升级。
func (p *Processor) quarantine(path, reason string) {
	if _, err := p.files.Quarantine(path, reason); err != nil {
		log.Errorf("隔离文件 %s 失败: %v", path, err)
	}
}

// publishEvent 发布处理完成事件，供下游系统消费。发布失败不影响处理结果。
func (p *Processor) publishEvent(name string, table *parser.Table, rows int, archivedPath string) {
	if !kafka.Enabled() {
		return
	}
	if err := kafka.ProduceFileProcessedEvent(tasks.NewFileProcessedEvent(name, string(table.Type), rows, archivedPath)); err != nil {
		log.Warnf("发布处理完成事件失败 %s: %v", name, err)
	}
}
