package core

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"ssl-dns01/internal/config"
	"ssl-dns01/internal/provider"
	"ssl-dns01/internal/provider/aliyun"
	"ssl-dns01/internal/provider/huawei"
	"ssl-dns01/internal/provider/tencent"
)

// ProviderFactory 根据配置创建DNS提供商和证书部署目标
type ProviderFactory interface {
	DNSProvider(cred config.Credential) (provider.DNSProvider, error)
	CertDeployer(name string) (provider.CertDeployer, error)
}

// Factory 提供商工厂
type Factory struct {
	config *config.Config
	log    *zap.SugaredLogger

	mu sync.Mutex
	// 缓存已创建的部署目标实例
	deployers map[string]provider.CertDeployer
}

// NewFactory 创建工厂
func NewFactory(cfg *config.Config, log *zap.SugaredLogger) *Factory {
	return &Factory{
		config:    cfg,
		log:       log,
		deployers: make(map[string]provider.CertDeployer),
	}
}

// DNSProvider 按凭证创建DNS提供商。
// 每次调用返回新实例，由一次证书申请独占。
func (f *Factory) DNSProvider(cred config.Credential) (provider.DNSProvider, error) {
	switch config.NormalizeProvider(cred.Provider) {
	case config.ProviderTencent:
		return tencent.NewDNSProvider(cred, f.log)
	case config.ProviderAliyun:
		return aliyun.NewDNSProvider(cred, f.log)
	case config.ProviderHuawei:
		return huawei.NewDNSProvider(cred, f.log)
	default:
		return nil, fmt.Errorf("不支持的DNS提供商: %s", cred.Provider)
	}
}

// CertDeployer 获取证书部署目标
func (f *Factory) CertDeployer(name string) (provider.CertDeployer, error) {
	name = config.NormalizeProvider(name)

	f.mu.Lock()
	defer f.mu.Unlock()

	// 检查缓存
	if d, ok := f.deployers[name]; ok {
		return d, nil
	}

	var (
		d   provider.CertDeployer
		err error
	)

	switch name {
	case config.ProviderAliyun:
		if f.config.Providers.Aliyun == nil {
			return nil, fmt.Errorf("阿里云证书部署未配置")
		}
		d, err = aliyun.NewCertDeployer(f.config.Providers.Aliyun, f.log)

	case config.ProviderTencent:
		if f.config.Providers.Tencent == nil {
			return nil, fmt.Errorf("腾讯云证书部署未配置")
		}
		d, err = tencent.NewCertDeployer(f.config.Providers.Tencent, f.log)

	default:
		return nil, fmt.Errorf("不支持的部署目标: %s", name)
	}

	if err != nil {
		return nil, err
	}

	f.deployers[name] = d
	return d, nil
}
