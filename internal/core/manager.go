// Package core 串联证书检查、DNS-01 签发、保存、部署和通知
package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	legochallenge "github.com/go-acme/lego/v4/challenge"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ssl-dns01/internal/acme"
	"ssl-dns01/internal/challenge"
	"ssl-dns01/internal/config"
	"ssl-dns01/internal/logger"
	"ssl-dns01/internal/notification"
	"ssl-dns01/internal/provider"
	"ssl-dns01/internal/storage"
	"ssl-dns01/internal/zone"
)

// Issuer ACME 签发
type Issuer interface {
	CreateAccount(ctx context.Context) error
	Obtain(ctx context.Context, domains []string, hooks legochallenge.Provider) (*provider.Certificate, error)
}

// Manager 证书管理器
type Manager struct {
	config    *config.Config
	factory   ProviderFactory
	issuer    Issuer
	storage   *storage.FileStorage
	validator *Validator
	executor  *Executor
	notifier  *notification.WebhookNotifier
	log       *zap.SugaredLogger

	// 测试中替换编排器选项
	challengeOpts []challenge.Option
}

// NewManager 创建管理器
func NewManager(cfg *config.Config, log *zap.SugaredLogger) *Manager {
	log = logger.OrNop(log)
	store := storage.NewFileStorage(cfg.OutputDir, log)

	return newManager(cfg, NewFactory(cfg, log), acme.NewIssuer(cfg.ACME, store, log), store, log)
}

func newManager(cfg *config.Config, factory ProviderFactory, issuer Issuer, store *storage.FileStorage, log *zap.SugaredLogger) *Manager {
	log = logger.OrNop(log)
	return &Manager{
		config:    cfg,
		factory:   factory,
		issuer:    issuer,
		storage:   store,
		validator: NewValidator(store, log),
		executor:  NewExecutor(log),
		notifier:  notification.NewWebhookNotifier(cfg.Webhook, log),
		log:       log,
	}
}

// CreateAccount 注册或复用 ACME 账号
func (m *Manager) CreateAccount(ctx context.Context) error {
	return m.issuer.CreateAccount(ctx)
}

// Run 运行证书管理，按 concurrency 并发处理各证书
func (m *Manager) Run(ctx context.Context) error {
	m.log.Infof("========== 开始检查证书 ==========")

	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.Concurrency)

	for _, certCfg := range m.config.Certificates {
		g.Go(func() error {
			if err := m.ProcessCertificate(gctx, certCfg); err != nil {
				failed.Add(1)
				m.log.Errorf("处理证书 %s 失败: %v", certCfg.Name, err)
			}
			// 单个证书失败不影响其他证书
			return nil
		})
	}
	_ = g.Wait()

	m.log.Infof("========== 检查完成 ==========")

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d 个证书处理失败", n)
	}
	return nil
}

// ProcessCertificate 处理单个证书
func (m *Manager) ProcessCertificate(ctx context.Context, certCfg config.CertificateConfig) error {
	m.log.Infof("========== 处理证书: %s ==========", certCfg.Name)
	m.log.Infof("  域名: %v, DNS提供商: %s", certCfg.Domains, certCfg.DNS.Provider)

	needRenew, expiry, err := m.validator.NeedRenew(ctx, certCfg.Name, certCfg.Domains, certCfg.RenewDays)
	if err != nil {
		m.log.Warnf("检查证书失败: %v", err)
	}
	if !needRenew {
		m.log.Infof("证书 %s 有效，无需续期", certCfg.Name)
		return nil
	}
	if !expiry.IsZero() {
		m.log.Infof("证书将在 %s 过期，需要续期", expiry.Format("2006-01-02"))
	}

	cert, err := m.obtain(ctx, certCfg)
	if err != nil {
		m.notifyFailure(ctx, certCfg.Name, expiry, err)
		return err
	}

	leaf, err := certcrypto.ParsePEMCertificate([]byte(cert.Certificate))
	if err != nil {
		return fmt.Errorf("解析证书失败: %w", err)
	}

	meta := &storage.Meta{
		Name:      certCfg.Name,
		Domains:   certCfg.Domains,
		NotBefore: leaf.NotBefore,
		NotAfter:  leaf.NotAfter,
		IssuedAt:  time.Now(),
	}
	if err := m.storage.SaveCertificate(certCfg.Name, cert, meta); err != nil {
		return fmt.Errorf("保存证书失败: %w", err)
	}
	m.notify(m.notifier.NotifyCertRenewed(ctx, certCfg.Name, certCfg.Domains, leaf.NotAfter))

	m.deploy(ctx, certCfg, cert, leaf.NotAfter)
	m.runPostCommand(ctx, certCfg)

	m.log.Infof("证书 %s 处理完成！", certCfg.Name)
	return nil
}

// obtain 为证书创建独立的验证编排器并签发
func (m *Manager) obtain(ctx context.Context, certCfg config.CertificateConfig) (*provider.Certificate, error) {
	dnsProvider, err := m.factory.DNSProvider(certCfg.DNS)
	if err != nil {
		return nil, fmt.Errorf("获取DNS提供商失败: %w", err)
	}

	opts := []challenge.Option{
		challenge.WithLogger(m.log),
		challenge.WithTimeout(m.config.ACME.PropagationTimeoutDuration(), m.config.ACME.PollingIntervalDuration()),
		challenge.WithFailureFunc(func(domain string, result challenge.Result, err error) {
			m.notify(m.notifier.NotifyChallengeFailed(context.WithoutCancel(ctx), domain, result.String(), err.Error()))
		}),
	}
	if m.config.ACME.DelegationCheckEnabled() {
		opts = append(opts, challenge.WithDelegationChecker(zone.NewNSChecker(m.config.ACME.Nameservers, 5*time.Second)))
	}
	opts = append(opts, m.challengeOpts...)

	orchestrator := challenge.New(dnsProvider, opts...)
	return m.issuer.Obtain(ctx, certCfg.Domains, orchestrator)
}

// deploy 上传证书到配置的云平台，失败只记录日志
func (m *Manager) deploy(ctx context.Context, certCfg config.CertificateConfig, cert *provider.Certificate, notAfter time.Time) {
	alias := fmt.Sprintf("%s-%s", certCfg.Name, notAfter.Format("20060102"))

	for _, target := range certCfg.Deploy {
		deployer, err := m.factory.CertDeployer(target)
		if err != nil {
			m.log.Errorf("获取部署目标 %s 失败: %v", target, err)
			continue
		}

		certID, err := deployer.UploadCertificate(ctx, alias, cert)
		if err != nil {
			m.log.Errorf("上传证书到 %s 失败: %v", deployer.Name(), err)
			continue
		}
		m.notify(m.notifier.NotifyCertDeployed(ctx, certCfg.Name, deployer.Name(), certID))
	}
}

func (m *Manager) runPostCommand(ctx context.Context, certCfg config.CertificateConfig) {
	postCommand := certCfg.PostCommand
	if postCommand == "" {
		postCommand = m.config.PostCommand
	}
	if postCommand == "" {
		return
	}

	vars := m.executor.BuildVars(
		certCfg.Name,
		certCfg.Domains,
		m.storage.GetCertDir(certCfg.Name),
		m.storage.GetCertPath(certCfg.Name),
		m.storage.GetKeyPath(certCfg.Name),
		m.storage.GetFullchainPath(certCfg.Name),
	)
	if err := m.executor.RunPostCommand(ctx, postCommand, vars); err != nil {
		m.log.Errorf("执行后置命令失败: %v", err)
	}
}

func (m *Manager) notifyFailure(ctx context.Context, name string, expiry time.Time, err error) {
	m.notify(m.notifier.NotifyCertFailed(ctx, name, err.Error()))
	if !expiry.IsZero() {
		m.notify(m.notifier.NotifyCertExpiring(ctx, name, m.validator.DaysRemaining(expiry)))
	}
}

func (m *Manager) notify(err error) {
	if err != nil {
		m.log.Warnf("发送通知失败: %v", err)
	}
}

// GetConfig 获取配置
func (m *Manager) GetConfig() *config.Config {
	return m.config
}
