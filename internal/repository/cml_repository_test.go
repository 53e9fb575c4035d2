package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cml-pipeline-go/internal/model"
)

func sqliteOpener(t *testing.T) Opener {
	t.Helper()
	// 每个测试一个独立的文件库，重连后数据仍在
	path := filepath.Join(t.TempDir(), "cml_test.db")
	return func() (*gorm.DB, error) {
		return gorm.Open(sqlite.Open(path), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
	}
}

func newTestWriter(t *testing.T) CMLWriter {
	t.Helper()
	w := NewCMLRepository(sqliteOpener(t), 1, time.Millisecond)
	if err := w.Connect(context.Background()); err != nil {
		t.Fatalf("Connect 失败: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func f(v float64) *float64 { return &v }

func metaRow(linkID, sublinkID string, lon0 float64) model.CMLMetadata {
	return model.CMLMetadata{
		LinkID:    linkID,
		SublinkID: sublinkID,
		Site0Lon:  f(lon0),
		Site0Lat:  f(48.1),
		Site1Lon:  f(11.6),
		Site1Lat:  f(48.2),
	}
}

func TestWriteMetadataUpsertLastWriteWins(t *testing.T) {
	w := newTestWriter(t)

	n, err := w.WriteMetadata([]model.CMLMetadata{metaRow("10001", "sublink_1", 11.5)})
	if err != nil || n != 1 {
		t.Fatalf("首次写入: n=%d err=%v", n, err)
	}
	n, err = w.WriteMetadata([]model.CMLMetadata{metaRow("10001", "sublink_1", 12.5)})
	if err != nil || n != 1 {
		t.Fatalf("二次写入: n=%d err=%v", n, err)
	}

	repo := w.(*cmlRepository)
	var got []model.CMLMetadata
	if err := repo.db.Find(&got).Error; err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("记录数 = %d, want 1（upsert 不应产生重复键）", len(got))
	}
	if got[0].Site0Lon == nil || *got[0].Site0Lon != 12.5 {
		t.Errorf("site_0_lon = %v, want 12.5（后写覆盖先写）", got[0].Site0Lon)
	}
}

func TestWriteMetadataEmptyInput(t *testing.T) {
	w := NewCMLRepository(func() (*gorm.DB, error) {
		t.Fatal("空输入不应触发任何数据库访问")
		return nil, nil
	}, 1, time.Millisecond)

	n, err := w.WriteMetadata(nil)
	if err != nil || n != 0 {
		t.Errorf("n=%d err=%v, want 0, nil", n, err)
	}
}

func TestWriteRawDataAppend(t *testing.T) {
	w := newTestWriter(t)

	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rows := []model.CMLData{
		{Time: ts, LinkID: "10001", SublinkID: "sublink_1", TSL: f(15.0), RSL: f(-45.2)},
		{Time: ts.Add(time.Minute), LinkID: "10001", SublinkID: "sublink_1", TSL: nil, RSL: f(-46.8)},
	}
	n, err := w.WriteRawData(rows)
	if err != nil {
		t.Fatalf("WriteRawData 失败: %v", err)
	}
	if n != 2 {
		t.Errorf("n = %d, want 2", n)
	}

	// 同样的数据可以重复追加，不存在唯一约束
	if _, err := w.WriteRawData(rows); err != nil {
		t.Errorf("重复追加失败: %v", err)
	}

	repo := w.(*cmlRepository)
	var count int64
	repo.db.Model(&model.CMLData{}).Count(&count)
	if count != 4 {
		t.Errorf("总记录数 = %d, want 4", count)
	}
}

func TestValidateRawdataReferences(t *testing.T) {
	w := newTestWriter(t)

	if _, err := w.WriteMetadata([]model.CMLMetadata{metaRow("10001", "sublink_1", 11.5)}); err != nil {
		t.Fatal(err)
	}

	ts := time.Now().UTC()
	rows := []model.CMLData{
		{Time: ts, LinkID: "10001", SublinkID: "sublink_1"},
		{Time: ts, LinkID: "10002", SublinkID: "sublink_1"},
		{Time: ts, LinkID: "10002", SublinkID: "sublink_2"},
		{Time: ts, LinkID: "10002", SublinkID: "sublink_1"}, // 重复引用只报一次
	}
	ok, missing, err := w.ValidateRawdataReferences(rows)
	if err != nil {
		t.Fatalf("ValidateRawdataReferences 失败: %v", err)
	}
	if ok {
		t.Fatal("存在缺失引用时应返回 false")
	}
	want := []LinkPair{
		{LinkID: "10002", SublinkID: "sublink_1"},
		{LinkID: "10002", SublinkID: "sublink_2"},
	}
	if len(missing) != len(want) {
		t.Fatalf("缺失组合 = %v, want %v", missing, want)
	}
	for i := range want {
		if missing[i] != want[i] {
			t.Errorf("missing[%d] = %v, want %v（应排序）", i, missing[i], want[i])
		}
	}
}

func TestValidateRawdataReferencesEmptyInput(t *testing.T) {
	w := NewCMLRepository(func() (*gorm.DB, error) {
		t.Fatal("空输入不应触发任何数据库访问")
		return nil, nil
	}, 1, time.Millisecond)

	ok, missing, err := w.ValidateRawdataReferences(nil)
	if err != nil || !ok || missing != nil {
		t.Errorf("ok=%v missing=%v err=%v, want true, nil, nil", ok, missing, err)
	}
}

func TestConnectRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	inner := sqliteOpener(t)
	open := func() (*gorm.DB, error) {
		attempts++
		if attempts <= 2 {
			return nil, fmt.Errorf("connection refused")
		}
		return inner()
	}

	w := NewCMLRepository(open, 3, time.Millisecond)
	start := time.Now()
	if err := w.Connect(context.Background()); err != nil {
		t.Fatalf("第三次尝试应成功: %v", err)
	}
	defer w.Close()

	if attempts != 3 {
		t.Errorf("尝试次数 = %d, want 3", attempts)
	}
	// 退避 1ms + 2ms，只验证量级不做严格计时
	if elapsed := time.Since(start); elapsed < 3*time.Millisecond {
		t.Errorf("未观察到退避等待: %v", elapsed)
	}
}

func TestConnectExhaustsRetries(t *testing.T) {
	attempts := 0
	open := func() (*gorm.DB, error) {
		attempts++
		return nil, fmt.Errorf("connection refused")
	}

	w := NewCMLRepository(open, 3, time.Millisecond)
	err := w.Connect(context.Background())
	if err == nil {
		t.Fatal("全部失败时 Connect 应返回错误")
	}
	if attempts != 3 {
		t.Errorf("尝试次数 = %d, want 3", attempts)
	}
}

func TestWriteReconnectsAfterConnectionLoss(t *testing.T) {
	w := newTestWriter(t)
	repo := w.(*cmlRepository)

	// 模拟连接中途断开：直接关闭底层句柄
	sqlDB, err := repo.db.DB()
	if err != nil {
		t.Fatal(err)
	}
	_ = sqlDB.Close()

	// 写入前的存活探测应发现问题并透明重连
	n, err := w.WriteMetadata([]model.CMLMetadata{metaRow("10001", "sublink_1", 11.5)})
	if err != nil {
		t.Fatalf("断连后的写入应自动恢复: %v", err)
	}
	if n != 1 {
		t.Errorf("n = %d, want 1", n)
	}
}

func TestIsConnectionError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{driver.ErrBadConn, true},
		{fmt.Errorf("dial tcp: connection refused"), true},
		{fmt.Errorf("write: broken pipe"), true},
		{errors.New("UNIQUE constraint failed: cml_metadata.link_id"), false},
		{errors.New("null value in column violates not-null constraint"), false},
	}
	for _, c := range cases {
		if got := isConnectionError(c.err); got != c.want {
			t.Errorf("isConnectionError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
