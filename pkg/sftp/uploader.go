// Package sftp 实现了面向远端落地目录的安全上传通道。
// 认证方式强制密码与私钥二选一，主机密钥通过 known_hosts 严格校验，
// 远程路径与文件名在任何网络操作之前完成白名单校验。
package sftp

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	sftplib "github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"cml-pipeline-go/internal/config"
	"cml-pipeline-go/pkg/log"
	"cml-pipeline-go/pkg/storage"
)

// 远程路径与文件名的字符白名单。超出白名单一律拒绝，不做转义。
var (
	remotePathPattern = regexp.MustCompile(`^[A-Za-z0-9_\-./]+$`)
	filenamePattern   = regexp.MustCompile(`^[A-Za-z0-9_\-.]+$`)
)

// Uploader 维护一条到远端的 SFTP 连接，并把暂存目录中的文件逐个送达。
type Uploader struct {
	cfg        config.SFTPConfig
	remotePath string
	sourceDir  string
	archiveDir string
	backend    storage.Backend

	password string
	sshConn  *ssh.Client
	client   *sftplib.Client
}

// NewUploader 校验配置并创建上传器。此时不建立网络连接；
// 凭证配置错误（密码与私钥同时给出或都缺失）在这里直接失败。
func NewUploader(cfg config.SFTPConfig, up config.UploaderConfig, backend storage.Backend) (*Uploader, error) {
	hasPassword := cfg.Password != ""
	hasKey := cfg.PrivateKeyPath != ""
	if hasPassword && hasKey {
		return nil, errors.New("SFTP 认证配置冲突: 密码与私钥只能二选一")
	}
	if !hasPassword && !hasKey {
		return nil, errors.New("SFTP 认证配置缺失: 必须提供密码或私钥")
	}

	remote, err := validateRemotePath(cfg.RemotePath)
	if err != nil {
		return nil, err
	}

	u := &Uploader{
		cfg:        cfg,
		remotePath: remote,
		sourceDir:  up.SourceDir,
		archiveDir: up.ArchiveDir,
		backend:    backend,
		password:   cfg.Password,
	}
	// 配置结构体中不再保留明文密码
	u.cfg.Password = ""
	return u, nil
}

// validateRemotePath 校验并规范化远程落地目录。
// 要求绝对路径、无 ".." 片段、字符在白名单内；重复的 "/" 被折叠并记录日志。
func validateRemotePath(p string) (string, error) {
	if p == "" {
		return "", errors.New("远程路径不能为空")
	}
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("远程路径必须是绝对路径: %s", p)
	}
	if !remotePathPattern.MatchString(p) {
		return "", fmt.Errorf("远程路径包含非法字符: %s", p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("远程路径包含路径回溯片段: %s", p)
		}
	}
	normalized := path.Clean(p)
	if normalized != p {
		log.Warnf("远程路径已规范化: %s -> %s", p, normalized)
	}
	return normalized, nil
}

// sanitizeFilename 校验上传文件名。只接受纯文件名：
// 含路径分隔符、以 "." 开头或含白名单外字符的名字一律拒绝。
func sanitizeFilename(name string) (string, error) {
	if name == "" {
		return "", errors.New("文件名不能为空")
	}
	if strings.ContainsAny(name, `/\`) || name != path.Base(name) {
		return "", fmt.Errorf("文件名包含路径分隔符: %s", name)
	}
	if strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("不允许上传隐藏文件: %s", name)
	}
	if !filenamePattern.MatchString(name) {
		return "", fmt.Errorf("文件名包含非法字符: %s", name)
	}
	return name, nil
}

// hostKeyCallback 构造严格的主机密钥校验回调。
// known_hosts 文件缺失时打印告警并返回全拒绝回调：未知主机的连接必然失败。
func (u *Uploader) hostKeyCallback() ssh.HostKeyCallback {
	cb, err := knownhosts.New(u.cfg.KnownHostsPath)
	if err != nil {
		log.Warnf("无法加载 known_hosts 文件 %s: %v，所有主机将被视为未知", u.cfg.KnownHostsPath, err)
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			return fmt.Errorf("未知主机 %s: known_hosts 不可用", hostname)
		}
	}
	return cb
}

// Connect 建立 SSH 连接并打开 SFTP 会话，随后确保远端落地目录存在。
// 密码认证成功后内存中的密码会被清空。
func (u *Uploader) Connect() error {
	var auth []ssh.AuthMethod
	if u.cfg.PrivateKeyPath != "" {
		keyData, err := os.ReadFile(u.cfg.PrivateKeyPath)
		if err != nil {
			return fmt.Errorf("读取 SFTP 私钥 %s 失败: %w", u.cfg.PrivateKeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return fmt.Errorf("解析 SFTP 私钥 %s 失败: %w", u.cfg.PrivateKeyPath, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	} else {
		auth = append(auth, ssh.Password(u.password))
	}

	sshCfg := &ssh.ClientConfig{
		User:            u.cfg.Username,
		Auth:            auth,
		HostKeyCallback: u.hostKeyCallback(),
		Timeout:         time.Duration(u.cfg.ConnectionTimeout) * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", u.cfg.Host, u.cfg.Port)
	conn, err := ssh.Dial("tcp", addr, sshCfg)
	if err != nil {
		return fmt.Errorf("连接 SFTP 服务器 %s 失败: %w", addr, err)
	}
	// 握手完成后立即丢弃明文密码
	u.password = ""

	client, err := sftplib.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("打开 SFTP 会话失败: %w", err)
	}
	u.sshConn = conn
	u.client = client
	log.Infof("SFTP 连接建立成功: %s@%s", u.cfg.Username, addr)

	return u.ensureRemoteDir()
}

// ensureRemoteDir 逐级创建远端落地目录，已存在的层级直接跳过。
func (u *Uploader) ensureRemoteDir() error {
	if _, err := u.client.Stat(u.remotePath); err == nil {
		return nil
	}
	current := ""
	for _, seg := range strings.Split(strings.Trim(u.remotePath, "/"), "/") {
		current += "/" + seg
		if _, err := u.client.Stat(current); err == nil {
			continue
		}
		if err := u.client.Mkdir(current); err != nil {
			// 并发创建时 Mkdir 可能失败，复查一次
			if _, serr := u.client.Stat(current); serr != nil {
				return fmt.Errorf("创建远程目录 %s 失败: %w", current, err)
			}
		}
	}
	log.Infof("远程目录已就绪: %s", u.remotePath)
	return nil
}

// Connected 返回当前是否持有可用的 SFTP 会话。
func (u *Uploader) Connected() bool {
	return u.client != nil
}

// uploadOne 把一份文件内容写到远端落地目录。远端文件名经过白名单校验。
func (u *Uploader) uploadOne(name string, data []byte) error {
	safeName, err := sanitizeFilename(name)
	if err != nil {
		return err
	}
	remote := u.remotePath + "/" + safeName
	f, err := u.client.Create(remote)
	if err != nil {
		return fmt.Errorf("创建远程文件 %s 失败: %w", remote, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("写入远程文件 %s 失败: %w", remote, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("关闭远程文件 %s 失败: %w", remote, err)
	}
	return nil
}

// UploadPending 上传暂存目录中的所有 CSV 文件。
// 单个文件失败只记录日志并跳过，成功的文件移入本地归档目录。
// 返回本轮成功上传的文件数。
func (u *Uploader) UploadPending() (int, error) {
	if u.client == nil {
		return 0, errors.New("SFTP 连接尚未建立")
	}
	files, err := u.backend.List(u.sourceDir, "*.csv")
	if err != nil {
		return 0, fmt.Errorf("列举待上传文件失败: %w", err)
	}
	if len(files) == 0 {
		return 0, nil
	}

	uploaded := 0
	for _, src := range files {
		name := path.Base(src)
		data, err := u.backend.Read(src)
		if err != nil {
			log.Errorf("读取待上传文件 %s 失败: %v", src, err)
			continue
		}
		if err := u.uploadOne(name, data); err != nil {
			log.Errorf("上传文件 %s 失败: %v", name, err)
			continue
		}
		uploaded++
		dst := path.Join(u.archiveDir, name)
		if err := u.backend.Move(src, dst); err != nil {
			// 上传已成功，归档失败只告警，避免下一轮重复上传时丢数据
			log.Warnf("文件 %s 已上传但本地归档失败: %v", name, err)
		}
	}
	log.Infof("本轮上传完成: %d/%d 个文件成功", uploaded, len(files))
	return uploaded, nil
}

// Close 关闭 SFTP 会话与底层 SSH 连接。
func (u *Uploader) Close() {
	if u.client != nil {
		_ = u.client.Close()
		u.client = nil
	}
	if u.sshConn != nil {
		_ = u.sshConn.Close()
		u.sshConn = nil
	}
}
