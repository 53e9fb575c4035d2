// Package filemgr 管理已处理文件的终局去向：
// 成功的文件归档到按日期分目录的归档区，失败的文件移入隔离区，
// 并保证每个被隔离的文件旁边都有一份 .error.txt 诊断说明。
package filemgr

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cml-pipeline-go/pkg/log"
)

// Manager 负责 incoming/archived/quarantine 三个目录之间的文件流转。
type Manager struct {
	incomingDir   string
	archivedDir   string
	quarantineDir string
}

// New 创建文件生命周期管理器，并确保三个目录存在。
func New(incomingDir, archivedDir, quarantineDir string) (*Manager, error) {
	m := &Manager{
		incomingDir:   incomingDir,
		archivedDir:   archivedDir,
		quarantineDir: quarantineDir,
	}
	for _, dir := range []string{incomingDir, archivedDir, quarantineDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建目录 %s 失败: %w", dir, err)
		}
	}
	return m, nil
}

// archiveSubdir 返回当天的归档子目录（archived/YYYY-MM-DD），并确保其存在。
func (m *Manager) archiveSubdir() (string, error) {
	subdir := filepath.Join(m.archivedDir, time.Now().Format("2006-01-02"))
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		return "", err
	}
	return subdir, nil
}

// ArchivedPathFor 计算文件的归档目标路径，但不移动文件。
func (m *Manager) ArchivedPathFor(path string) (string, error) {
	subdir, err := m.archiveSubdir()
	if err != nil {
		return "", err
	}
	return filepath.Join(subdir, filepath.Base(path)), nil
}

// Archive 把处理成功的文件移动到 archived/<今天>/<原文件名>，返回目标路径。
// 源文件不存在时返回错误；移动与复制都失败时该文件视为致命错误，向上传播。
func (m *Manager) Archive(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("File not found: %s", path)
	}

	dest, err := m.ArchivedPathFor(path)
	if err != nil {
		return "", err
	}
	if err := safeMove(path, dest); err != nil {
		return "", fmt.Errorf("Failed to archive file %s: %w", path, err)
	}
	log.Infof("已归档文件 %s -> %s", path, dest)
	return dest, nil
}

// Quarantine 把处理失败的文件移入隔离区并写下诊断说明，返回文件（或说明）的目标路径。
// 三级降级链：move -> copy -> .orphan 标记；无论前面哪一步失败，
// .error.txt 都必须被写出（写说明本身失败只记日志，不再向外抛错）。
func (m *Manager) Quarantine(path, reason string) (string, error) {
	name := filepath.Base(path)

	if _, err := os.Stat(path); err != nil {
		// 文件在管道中途消失：只写说明，不报错
		notePath := filepath.Join(m.quarantineDir, name+".error.txt")
		contents := fmt.Sprintf("Original file not found: %s\nError: %s\n", path, reason)
		if werr := os.WriteFile(notePath, []byte(contents), 0o644); werr != nil {
			log.Error("写入隔离说明失败", werr)
		}
		log.Warnf("待隔离文件已不存在 %s: %s", path, reason)
		return notePath, nil
	}

	dest := filepath.Join(m.quarantineDir, name)
	if err := safeMove(path, dest); err != nil {
		// 移动与复制都失败：退而求其次用 .orphan 占位，说明仍然要写
		log.Error("移动或复制到隔离区失败", err)
		dest = filepath.Join(m.quarantineDir, name+".orphan")
	}

	notePath := filepath.Join(m.quarantineDir, filepath.Base(dest)+".error.txt")
	contents := fmt.Sprintf("Quarantined at: %s\nError: %s\nOriginalPath: %s\n",
		time.Now().UTC().Format(time.RFC3339), reason, path)
	if err := os.WriteFile(notePath, []byte(contents), 0o644); err != nil {
		// 丢失诊断原因不应让管道继续出错
		log.Error("写入隔离说明失败", err)
	}

	log.Warnf("已隔离文件 %s: %s", dest, reason)
	return dest, nil
}

// safeMove 先尝试原子 rename，失败（如跨设备）时退化为 copy+delete。
func safeMove(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(dst)
		return copyErr
	}
	if closeErr != nil {
		_ = os.Remove(dst)
		return closeErr
	}
	// 复制成功后尽力删除源文件；删除失败不影响结果
	if err := os.Remove(src); err != nil {
		log.Warnf("复制后删除源文件失败 %s: %v", src, err)
	}
	return nil
}
