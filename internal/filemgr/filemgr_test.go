package filemgr

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	base := t.TempDir()
	m, err := New(
		filepath.Join(base, "incoming"),
		filepath.Join(base, "archived"),
		filepath.Join(base, "quarantine"),
	)
	if err != nil {
		t.Fatalf("New 失败: %v", err)
	}
	return m, base
}

func writeIncoming(t *testing.T, base, name, contents string) string {
	t.Helper()
	path := filepath.Join(base, "incoming", name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestArchiveMovesToDatedSubdir(t *testing.T) {
	m, base := newTestManager(t)
	src := writeIncoming(t, base, "cml_data_1.csv", "x")

	dest, err := m.Archive(src)
	if err != nil {
		t.Fatalf("Archive 失败: %v", err)
	}

	today := time.Now().Format("2006-01-02")
	want := filepath.Join(base, "archived", today, "cml_data_1.csv")
	if dest != want {
		t.Errorf("归档路径 = %q, want %q", dest, want)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("归档文件不存在: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("源文件应已被移走")
	}
}

func TestArchiveMissingSource(t *testing.T) {
	m, base := newTestManager(t)
	_, err := m.Archive(filepath.Join(base, "incoming", "ghost.csv"))
	if err == nil {
		t.Fatal("源文件不存在时应报错")
	}
	if !strings.Contains(err.Error(), "File not found") {
		t.Errorf("错误信息 = %q", err)
	}
}

func TestQuarantineWritesErrorNote(t *testing.T) {
	m, base := newTestManager(t)
	src := writeIncoming(t, base, "bad.csv", "x")

	dest, err := m.Quarantine(src, "Missing required columns: [rsl]")
	if err != nil {
		t.Fatalf("Quarantine 失败: %v", err)
	}

	note, err := os.ReadFile(dest + ".error.txt")
	if err != nil {
		t.Fatalf("隔离说明缺失: %v", err)
	}
	text := string(note)
	if !strings.Contains(text, "Missing required columns") {
		t.Errorf("说明未包含失败原因: %q", text)
	}
	if !strings.Contains(text, src) {
		t.Errorf("说明未包含原始路径: %q", text)
	}
	if !strings.Contains(text, "Quarantined at:") {
		t.Errorf("说明未包含时间戳: %q", text)
	}
}

func TestQuarantineMissingSourceStillWritesNote(t *testing.T) {
	m, base := newTestManager(t)
	ghost := filepath.Join(base, "incoming", "vanished.csv")

	notePath, err := m.Quarantine(ghost, "DB write failed")
	if err != nil {
		t.Fatalf("文件缺失时 Quarantine 不应报错: %v", err)
	}

	note, err := os.ReadFile(notePath)
	if err != nil {
		t.Fatalf("隔离说明缺失: %v", err)
	}
	text := string(note)
	if !strings.Contains(text, "Original file not found") {
		t.Errorf("说明应标记源文件缺失: %q", text)
	}
	if !strings.Contains(text, ghost) {
		t.Errorf("说明未包含原始路径: %q", text)
	}
}

func TestArchivedPathForDoesNotMove(t *testing.T) {
	m, base := newTestManager(t)
	src := writeIncoming(t, base, "cml_data_2.csv", "x")

	dest, err := m.ArchivedPathFor(src)
	if err != nil {
		t.Fatalf("ArchivedPathFor 失败: %v", err)
	}
	if filepath.Base(dest) != "cml_data_2.csv" {
		t.Errorf("目标路径 = %q", dest)
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("源文件不应被移动: %v", err)
	}
}

func TestSafeMoveCopyFallback(t *testing.T) {
	// rename 在同一文件系统内总会成功，这里直接验证复制分支的行为
	base := t.TempDir()
	src := filepath.Join(base, "a.csv")
	dst := filepath.Join(base, "sub", "a.csv")
	if err := os.WriteFile(src, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := safeMove(src, dst); err != nil {
		t.Fatalf("safeMove 失败: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "data" {
		t.Errorf("目标内容 = %q, err=%v", got, err)
	}
}
