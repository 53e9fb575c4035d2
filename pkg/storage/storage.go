// Package storage 提供了可切换的存储后端抽象。
// 本地文件系统后端用于开发与单机部署，MinIO 后端用于对象存储部署；
// 通过配置选择，调用方只依赖 Backend 接口。
package storage

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"cml-pipeline-go/internal/config"
)

// Backend 是存储后端必须实现的接口。所有路径都相对于后端的根。
type Backend interface {
	// Exists 判断文件是否存在
	Exists(path string) (bool, error)
	// List 列出目录下匹配 pattern（path.Match 语法）的文件，结果已排序
	List(dir, pattern string) ([]string, error)
	// Read 读取文件全部内容
	Read(path string) ([]byte, error)
	// Write 写入文件内容，必要时创建父目录
	Write(path string, data []byte) error
	// Move 把文件从 src 移动到 dst
	Move(src, dst string) error
	// Delete 删除文件
	Delete(path string) error
	// Size 返回文件大小（字节）
	Size(path string) (int64, error)
}

// NewBackend 根据配置创建存储后端（local | s3）。
func NewBackend(cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalBackend(cfg.Local.BasePath)
	case "s3":
		return NewMinIOBackend(cfg.S3)
	default:
		return nil, fmt.Errorf("未知的存储后端: %s", cfg.Backend)
	}
}

// LocalBackend 是本地文件系统后端，所有操作被限制在 basePath 之内。
type LocalBackend struct {
	basePath string
}

// NewLocalBackend 创建本地后端并确保根目录存在。
func NewLocalBackend(basePath string) (*LocalBackend, error) {
	if basePath == "" {
		basePath = "data"
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("创建存储根目录失败: %w", err)
	}
	return &LocalBackend{basePath: abs}, nil
}

// resolve 把相对路径映射到根目录之下，并拒绝越出根目录的路径。
func (b *LocalBackend) resolve(p string) (string, error) {
	full := filepath.Join(b.basePath, filepath.FromSlash(p))
	full = filepath.Clean(full)
	if full != b.basePath && !strings.HasPrefix(full, b.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("路径越出存储根目录: %s", p)
	}
	return full, nil
}

func (b *LocalBackend) Exists(p string) (bool, error) {
	full, err := b.resolve(p)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *LocalBackend) List(dir, pattern string) ([]string, error) {
	full, err := b.resolve(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, merr := path.Match(pattern, e.Name())
		if merr != nil {
			return nil, merr
		}
		if ok {
			out = append(out, path.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (b *LocalBackend) Read(p string) ([]byte, error) {
	full, err := b.resolve(p)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

func (b *LocalBackend) Write(p string, data []byte) error {
	full, err := b.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

func (b *LocalBackend) Move(src, dst string) error {
	fullSrc, err := b.resolve(src)
	if err != nil {
		return err
	}
	fullDst, err := b.resolve(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullDst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(fullSrc, fullDst); err == nil {
		return nil
	}
	// 跨设备移动时退化为 copy+delete
	in, err := os.Open(fullSrc)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(fullDst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(fullDst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(fullDst)
		return err
	}
	return os.Remove(fullSrc)
}

func (b *LocalBackend) Delete(p string) error {
	full, err := b.resolve(p)
	if err != nil {
		return err
	}
	return os.Remove(full)
}

func (b *LocalBackend) Size(p string) (int64, error) {
	full, err := b.resolve(p)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
