// Package acme 通过 lego 完成 ACME 账号注册和证书签发
package acme

import (
	"context"
	"crypto"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"go.uber.org/zap"

	"ssl-dns01/internal/config"
	"ssl-dns01/internal/logger"
	"ssl-dns01/internal/provider"
	"ssl-dns01/internal/storage"
)

// AccountStore 账号持久化
type AccountStore interface {
	LoadAccount(directory string) (*storage.Account, []byte, error)
	SaveAccount(account *storage.Account, keyPEM []byte) error
}

// user 实现 registration.User
type user struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *user) GetEmail() string                        { return u.email }
func (u *user) GetRegistration() *registration.Resource { return u.registration }
func (u *user) GetPrivateKey() crypto.PrivateKey        { return u.key }

// Issuer ACME 签发器
type Issuer struct {
	cfg   config.ACMEConfig
	store AccountStore
	log   *zap.SugaredLogger

	mu   sync.Mutex
	user *user
}

// NewIssuer 创建签发器
func NewIssuer(cfg config.ACMEConfig, store AccountStore, log *zap.SugaredLogger) *Issuer {
	return &Issuer{cfg: cfg, store: store, log: logger.OrNop(log)}
}

// CreateAccount 注册 ACME 账号（同意服务条款），本地已有同邮箱的账号时直接复用
func (i *Issuer) CreateAccount(ctx context.Context) error {
	_, err := i.account(ctx)
	return err
}

// Obtain 使用给定的 DNS-01 提供者为域名签发证书
func (i *Issuer) Obtain(ctx context.Context, domains []string, hooks challenge.Provider) (*provider.Certificate, error) {
	u, err := i.account(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// lego 客户端的验证提供者是客户端级别的，每次签发单独创建
	client, err := i.newClient(u)
	if err != nil {
		return nil, err
	}

	ns := dns01.ParseNameservers(i.cfg.Nameservers)
	if err := client.Challenge.SetDNS01Provider(hooks,
		dns01.CondOption(len(ns) > 0, dns01.AddRecursiveNameservers(ns)),
	); err != nil {
		return nil, fmt.Errorf("设置DNS验证失败: %w", err)
	}

	i.log.Infof("[ACME] 开始签发证书: %s", strings.Join(domains, ", "))
	res, err := client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: domains,
		Bundle:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("签发证书失败: %w", err)
	}

	cert, err := toCertificate(res)
	if err != nil {
		return nil, err
	}
	i.log.Infof("[ACME] 证书签发成功: %s", res.CertURL)
	return cert, nil
}

// account 返回已注册的账号，必要时加载或注册
func (i *Issuer) account(ctx context.Context) (*user, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.user != nil && i.user.registration != nil {
		return i.user, nil
	}

	u, err := i.loadUser()
	if err != nil {
		return nil, err
	}

	if u.registration == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		client, err := i.newClient(u)
		if err != nil {
			return nil, err
		}

		i.log.Infof("[ACME] 注册账号: %s (%s)", u.email, i.cfg.Directory)
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, fmt.Errorf("注册ACME账号失败: %w", err)
		}
		u.registration = reg

		keyPEM := certcrypto.PEMEncode(u.key)
		if err := i.store.SaveAccount(&storage.Account{
			Email:        u.email,
			Directory:    i.cfg.Directory,
			Registration: reg,
		}, keyPEM); err != nil {
			return nil, err
		}
	}

	i.user = u
	return u, nil
}

// loadUser 读取本地账号；不存在或邮箱不一致时生成新的账号私钥（尚未注册）
func (i *Issuer) loadUser() (*user, error) {
	account, keyPEM, err := i.store.LoadAccount(i.cfg.Directory)
	switch {
	case err == nil && account.Email == i.cfg.Email:
		key, err := certcrypto.ParsePEMPrivateKey(keyPEM)
		if err != nil {
			return nil, fmt.Errorf("解析账号私钥失败: %w", err)
		}
		i.log.Debugf("[ACME] 复用本地账号: %s", account.Email)
		return &user{email: account.Email, registration: account.Registration, key: key}, nil
	case err == nil:
		i.log.Warnf("[ACME] 本地账号邮箱 %s 与配置 %s 不一致，将注册新账号", account.Email, i.cfg.Email)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	key, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	if err != nil {
		return nil, fmt.Errorf("生成账号私钥失败: %w", err)
	}
	return &user{email: i.cfg.Email, key: key}, nil
}

func (i *Issuer) newClient(u *user) (*lego.Client, error) {
	keyType, err := ParseKeyType(i.cfg.KeyType)
	if err != nil {
		return nil, err
	}

	legoConfig := lego.NewConfig(u)
	legoConfig.CADirURL = i.cfg.Directory
	legoConfig.UserAgent = "ssl-dns01"
	legoConfig.Certificate.KeyType = keyType
	legoConfig.Certificate.Timeout = 60 * time.Second

	client, err := lego.NewClient(legoConfig)
	if err != nil {
		return nil, fmt.Errorf("创建ACME客户端失败: %w", err)
	}
	return client, nil
}

// ParseKeyType 解析证书私钥类型
func ParseKeyType(name string) (certcrypto.KeyType, error) {
	switch strings.ToLower(name) {
	case "", "ec256":
		return certcrypto.EC256, nil
	case "ec384":
		return certcrypto.EC384, nil
	case "rsa2048":
		return certcrypto.RSA2048, nil
	case "rsa3072":
		return certcrypto.RSA3072, nil
	case "rsa4096":
		return certcrypto.RSA4096, nil
	default:
		return "", fmt.Errorf("不支持的私钥类型: %s", name)
	}
}

// toCertificate 拆分 lego 返回的证书：cert.pem 只含叶子证书，fullchain.pem 为完整链
func toCertificate(res *certificate.Resource) (*provider.Certificate, error) {
	certs, err := certcrypto.ParsePEMBundle(res.Certificate)
	if err != nil {
		return nil, fmt.Errorf("解析签发的证书失败: %w", err)
	}
	if len(certs) == 0 {
		return nil, errors.New("签发结果中没有证书")
	}

	leaf := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certs[0].Raw})
	return &provider.Certificate{
		Certificate: string(leaf),
		PrivateKey:  string(res.PrivateKey),
		Chain:       string(res.Certificate),
		Issuer:      string(res.IssuerCertificate),
	}, nil
}
