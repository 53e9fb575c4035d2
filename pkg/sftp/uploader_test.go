package sftp

import (
	"strings"
	"testing"

	"cml-pipeline-go/internal/config"
)

func TestNewUploaderRequiresExactlyOneAuthMethod(t *testing.T) {
	base := config.SFTPConfig{
		Host: "example.com", Port: 22, Username: "u",
		RemotePath: "/upload/cml",
	}

	both := base
	both.Password = "secret"
	both.PrivateKeyPath = "/keys/id_ed25519"
	if _, err := NewUploader(both, config.UploaderConfig{}, nil); err == nil {
		t.Fatal("密码与私钥同时配置时应当报错")
	}

	neither := base
	if _, err := NewUploader(neither, config.UploaderConfig{}, nil); err == nil {
		t.Fatal("密码与私钥都缺失时应当报错")
	}

	passwordOnly := base
	passwordOnly.Password = "secret"
	u, err := NewUploader(passwordOnly, config.UploaderConfig{}, nil)
	if err != nil {
		t.Fatalf("仅密码认证应当通过: %v", err)
	}
	if u.cfg.Password != "" {
		t.Fatal("配置副本中不应保留明文密码")
	}
}

func TestValidateRemotePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr string
	}{
		{in: "/upload/cml", want: "/upload/cml"},
		{in: "/a//b", want: "/a/b"},
		{in: "/a/../etc", wantErr: "路径回溯"},
		{in: "relative/path", wantErr: "绝对路径"},
		{in: "/upload/数据", wantErr: "非法字符"},
		{in: "/upload/cml;rm", wantErr: "非法字符"},
		{in: "", wantErr: "不能为空"},
	}
	for _, tt := range tests {
		got, err := validateRemotePath(tt.in)
		if tt.wantErr != "" {
			if err == nil {
				t.Errorf("validateRemotePath(%q) 应当失败", tt.in)
			} else if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validateRemotePath(%q) 错误信息 = %v, 应包含 %q", tt.in, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("validateRemotePath(%q) = %v", tt.in, err)
		} else if got != tt.want {
			t.Errorf("validateRemotePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in      string
		wantErr string
	}{
		{in: "cml_data_20250101.csv"},
		{in: "../x.csv", wantErr: "路径分隔符"},
		{in: "a/b.csv", wantErr: "路径分隔符"},
		{in: `a\b.csv`, wantErr: "路径分隔符"},
		{in: ".hidden.csv", wantErr: "隐藏文件"},
		{in: "數據.csv", wantErr: "非法字符"},
		{in: "", wantErr: "不能为空"},
	}
	for _, tt := range tests {
		got, err := sanitizeFilename(tt.in)
		if tt.wantErr != "" {
			if err == nil {
				t.Errorf("sanitizeFilename(%q) 应当失败", tt.in)
			} else if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("sanitizeFilename(%q) 错误信息 = %v, 应包含 %q", tt.in, err, tt.wantErr)
			}
			continue
		}
		if err != nil || got != tt.in {
			t.Errorf("sanitizeFilename(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestUploadPendingWithoutConnection(t *testing.T) {
	cfg := config.SFTPConfig{
		Host: "example.com", Port: 22, Username: "u",
		Password: "secret", RemotePath: "/upload/cml",
	}
	u, err := NewUploader(cfg, config.UploaderConfig{SourceDir: "out", ArchiveDir: "done"}, nil)
	if err != nil {
		t.Fatalf("NewUploader: %v", err)
	}
	if u.Connected() {
		t.Fatal("未连接时 Connected 应为 false")
	}
	if _, err := u.UploadPending(); err == nil {
		t.Fatal("未连接时 UploadPending 应当报错")
	}
}
