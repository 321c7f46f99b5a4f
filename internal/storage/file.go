package storage

import (
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/registration"
	"go.uber.org/zap"

	"ssl-dns01/internal/logger"
	"ssl-dns01/internal/provider"
)

const (
	certFile      = "cert.pem"
	keyFile       = "key.pem"
	fullchainFile = "fullchain.pem"
	issuerFile    = "issuer.pem"
	metaFile      = "meta.json"

	accountDir     = ".account"
	accountFile    = "account.json"
	accountKeyFile = "account.key"
)

// ErrNotFound 本地没有保存过对应的证书或账号
var ErrNotFound = errors.New("本地文件不存在")

// Meta 证书元数据
type Meta struct {
	Name      string    `json:"name"`
	Domains   []string  `json:"domains"`
	CertURL   string    `json:"cert_url,omitempty"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Account ACME 账号信息（私钥单独保存）
type Account struct {
	Email        string                 `json:"email"`
	Directory    string                 `json:"directory"`
	Registration *registration.Resource `json:"registration,omitempty"`
}

// FileStorage 文件存储
type FileStorage struct {
	baseDir string
	log     *zap.SugaredLogger
}

// NewFileStorage 创建文件存储
func NewFileStorage(baseDir string, log *zap.SugaredLogger) *FileStorage {
	return &FileStorage{baseDir: baseDir, log: logger.OrNop(log)}
}

// SaveCertificate 保存证书到文件
func (s *FileStorage) SaveCertificate(name string, cert *provider.Certificate, meta *Meta) error {
	outputDir := s.GetCertDir(name)

	// 创建输出目录
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	// 保存证书
	certPath := filepath.Join(outputDir, certFile)
	if err := os.WriteFile(certPath, []byte(cert.Certificate), 0o644); err != nil {
		return fmt.Errorf("保存证书失败: %w", err)
	}
	s.log.Infof("  - 证书文件: %s", certPath)

	// 保存私钥
	if cert.PrivateKey != "" {
		keyPath := filepath.Join(outputDir, keyFile)
		if err := os.WriteFile(keyPath, []byte(cert.PrivateKey), 0o600); err != nil {
			return fmt.Errorf("保存私钥失败: %w", err)
		}
		s.log.Infof("  - 私钥文件: %s", keyPath)
	} else {
		s.log.Warnf("  - 警告: 私钥不可用")
	}

	// 保存完整证书链
	chain := cert.Chain
	if chain == "" {
		chain = cert.Certificate
	}
	fullchainPath := filepath.Join(outputDir, fullchainFile)
	if err := os.WriteFile(fullchainPath, []byte(chain), 0o644); err != nil {
		return fmt.Errorf("保存证书链失败: %w", err)
	}
	s.log.Infof("  - 证书链文件: %s", fullchainPath)

	if cert.Issuer != "" {
		if err := os.WriteFile(filepath.Join(outputDir, issuerFile), []byte(cert.Issuer), 0o644); err != nil {
			return fmt.Errorf("保存签发者证书失败: %w", err)
		}
	}

	if meta != nil {
		if err := writeJSON(filepath.Join(outputDir, metaFile), meta, 0o644); err != nil {
			return fmt.Errorf("保存证书元数据失败: %w", err)
		}
	}

	s.log.Infof("证书已保存到: %s", outputDir)
	return nil
}

// LoadCertificate 读取本地证书（叶子证书）
func (s *FileStorage) LoadCertificate(name string) (*x509.Certificate, error) {
	data, err := os.ReadFile(s.GetCertPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("读取证书失败: %w", err)
	}

	cert, err := certcrypto.ParsePEMCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("解析证书失败: %w", err)
	}
	return cert, nil
}

// LoadBundle 读取本地证书、私钥和证书链
func (s *FileStorage) LoadBundle(name string) (*provider.Certificate, error) {
	dir := s.GetCertDir(name)

	read := func(file string) (string, error) {
		data, err := os.ReadFile(filepath.Join(dir, file))
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return string(data), err
	}

	cert, err := read(certFile)
	if err != nil {
		return nil, err
	}
	key, err := read(keyFile)
	if err != nil {
		return nil, err
	}
	chain, err := read(fullchainFile)
	if err != nil {
		return nil, err
	}
	issuer, err := read(issuerFile)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	return &provider.Certificate{Certificate: cert, PrivateKey: key, Chain: chain, Issuer: issuer}, nil
}

// LoadMeta 读取证书元数据
func (s *FileStorage) LoadMeta(name string) (*Meta, error) {
	var meta Meta
	if err := readJSON(filepath.Join(s.GetCertDir(name), metaFile), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// AccountDir 返回 ACME 账号目录，按目录地址的主机名区分不同CA
func (s *FileStorage) AccountDir(directory string) string {
	host := "default"
	if u, err := url.Parse(directory); err == nil && u.Host != "" {
		host = u.Host
	}
	return filepath.Join(s.baseDir, accountDir, host)
}

// SaveAccount 保存 ACME 账号和私钥
func (s *FileStorage) SaveAccount(account *Account, keyPEM []byte) error {
	dir := s.AccountDir(account.Directory)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("创建账号目录失败: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, accountKeyFile), keyPEM, 0o600); err != nil {
		return fmt.Errorf("保存账号私钥失败: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, accountFile), account, 0o600); err != nil {
		return fmt.Errorf("保存账号信息失败: %w", err)
	}

	s.log.Infof("ACME 账号已保存到: %s", dir)
	return nil
}

// LoadAccount 读取 ACME 账号和私钥，不存在时返回 ErrNotFound
func (s *FileStorage) LoadAccount(directory string) (*Account, []byte, error) {
	dir := s.AccountDir(directory)

	keyPEM, err := os.ReadFile(filepath.Join(dir, accountKeyFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("读取账号私钥失败: %w", err)
	}

	var account Account
	if err := readJSON(filepath.Join(dir, accountFile), &account); err != nil {
		return nil, nil, err
	}
	return &account, keyPEM, nil
}

// GetCertDir 获取证书目录
func (s *FileStorage) GetCertDir(name string) string {
	return filepath.Join(s.baseDir, name)
}

// GetCertPath 获取证书路径
func (s *FileStorage) GetCertPath(name string) string {
	return filepath.Join(s.baseDir, name, certFile)
}

// GetKeyPath 获取私钥路径
func (s *FileStorage) GetKeyPath(name string) string {
	return filepath.Join(s.baseDir, name, keyFile)
}

// GetFullchainPath 获取完整证书链路径
func (s *FileStorage) GetFullchainPath(name string) string {
	return filepath.Join(s.baseDir, name, fullchainFile)
}

func writeJSON(path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, perm)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("读取 %s 失败: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("解析 %s 失败: %w", filepath.Base(path), err)
	}
	return nil
}
