package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ssl-dns01/internal/domain"
)

const (
	// EnvPrefix 环境变量前缀
	EnvPrefix = "SSL_DNS01_"

	// DefaultDirectory Let's Encrypt 生产环境
	DefaultDirectory = "https://acme-v02.api.letsencrypt.org/directory"

	ProviderTencent = "tencent"
	ProviderAliyun  = "aliyun"
	ProviderHuawei  = "huawei"
)

// providerAliases 供应商别名
var providerAliases = map[string]string{
	"vendor-a": ProviderTencent,
	"vendor-b": ProviderAliyun,
}

// envOverrides 环境变量覆盖项，优先级高于配置文件
type envOverrides struct {
	ACMEEmail     string `env:"ACME_EMAIL"`
	ACMEDirectory string `env:"ACME_DIRECTORY"`
	OutputDir     string `env:"OUTPUT_DIR"`
	LogLevel      string `env:"LOG_LEVEL"`
	LogFormat     string `env:"LOG_FORMAT"`

	TencentSecretID  string `env:"TENCENT_SECRET_ID"`
	TencentSecretKey string `env:"TENCENT_SECRET_KEY"`

	AliyunAccessKeyID     string `env:"ALIYUN_ACCESS_KEY_ID"`
	AliyunAccessKeySecret string `env:"ALIYUN_ACCESS_KEY_SECRET"`

	HuaweiAccessKey string `env:"HUAWEI_ACCESS_KEY"`
	HuaweiSecretKey string `env:"HUAWEI_SECRET_KEY"`
}

// Load 加载配置文件。配置文件同目录下的 .env 会先载入环境变量，
// 然后以 SSL_DNS01_ 开头的环境变量覆盖配置文件中的值。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := godotenv.Load(filepath.Join(filepath.Dir(path), ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 文件失败: %w", err)
	}

	return Parse(data)
}

// Parse 解析配置内容，应用环境变量覆盖和默认值并校验
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	var overrides envOverrides
	if err := env.ParseWithOptions(&overrides, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}
	overrides.apply(&config)

	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (o *envOverrides) apply(config *Config) {
	setIf(&config.ACME.Email, o.ACMEEmail)
	setIf(&config.ACME.Directory, o.ACMEDirectory)
	setIf(&config.OutputDir, o.OutputDir)
	setIf(&config.Log.Level, o.LogLevel)
	setIf(&config.Log.Format, o.LogFormat)

	if o.TencentSecretID != "" || o.TencentSecretKey != "" {
		if config.Providers.Tencent == nil {
			config.Providers.Tencent = &TencentConfig{}
		}
		setIf(&config.Providers.Tencent.SecretID, o.TencentSecretID)
		setIf(&config.Providers.Tencent.SecretKey, o.TencentSecretKey)
	}

	if o.AliyunAccessKeyID != "" || o.AliyunAccessKeySecret != "" {
		if config.Providers.Aliyun == nil {
			config.Providers.Aliyun = &AliyunConfig{}
		}
		setIf(&config.Providers.Aliyun.AccessKeyID, o.AliyunAccessKeyID)
		setIf(&config.Providers.Aliyun.AccessKeySecret, o.AliyunAccessKeySecret)
	}

	if o.HuaweiAccessKey != "" || o.HuaweiSecretKey != "" {
		if config.Providers.Huawei == nil {
			config.Providers.Huawei = &HuaweiConfig{}
		}
		setIf(&config.Providers.Huawei.AccessKey, o.HuaweiAccessKey)
		setIf(&config.Providers.Huawei.SecretKey, o.HuaweiSecretKey)
	}
}

func setIf(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// applyDefaults 设置默认值，并补全证书的DNS凭证
func applyDefaults(config *Config) {
	if config.OutputDir == "" {
		config.OutputDir = "./certs"
	}
	if config.CheckInterval == 0 {
		config.CheckInterval = 24
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "console"
	}

	if config.ACME.Directory == "" {
		config.ACME.Directory = DefaultDirectory
	}
	if config.ACME.KeyType == "" {
		config.ACME.KeyType = "ec256"
	}
	if config.ACME.PropagationTimeout <= 0 {
		config.ACME.PropagationTimeout = 120
	}
	if config.ACME.PollingInterval <= 0 {
		config.ACME.PollingInterval = 5
	}

	for i := range config.Certificates {
		cert := &config.Certificates[i]
		for j, d := range cert.Domains {
			cert.Domains[j] = strings.ToLower(strings.TrimSpace(d))
		}
		if cert.Name == "" && len(cert.Domains) > 0 {
			cert.Name = strings.ReplaceAll(domain.Normalize(cert.Domains[0]), "*", "_")
		}
		if cert.RenewDays <= 0 {
			cert.RenewDays = 30
		}

		cert.DNS.Provider = NormalizeProvider(cert.DNS.Provider)
		fillCredential(&cert.DNS, &config.Providers)
	}
}

// NormalizeProvider 统一供应商名称，识别别名
func NormalizeProvider(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if alias, ok := providerAliases[name]; ok {
		return alias
	}
	return name
}

// fillCredential 证书未单独配置DNS密钥时，使用 providers 中同一平台的凭证
func fillCredential(cred *Credential, providers *ProvidersConfig) {
	if cred.SecretID != "" && cred.SecretKey != "" {
		return
	}

	switch cred.Provider {
	case ProviderTencent:
		if p := providers.Tencent; p != nil {
			cred.SecretID, cred.SecretKey = p.SecretID, p.SecretKey
			if cred.Region == "" {
				cred.Region = p.Region
			}
		}
	case ProviderAliyun:
		if p := providers.Aliyun; p != nil {
			cred.SecretID, cred.SecretKey = p.AccessKeyID, p.AccessKeySecret
			if cred.Region == "" {
				cred.Region = p.Region
			}
		}
	case ProviderHuawei:
		if p := providers.Huawei; p != nil {
			cred.SecretID, cred.SecretKey = p.AccessKey, p.SecretKey
			if cred.Region == "" {
				cred.Region = p.Region
			}
		}
	}
}

// validate 验证配置
func validate(config *Config) error {
	if len(config.Certificates) == 0 {
		return fmt.Errorf("未配置任何证书")
	}
	if config.ACME.Email == "" {
		return fmt.Errorf("acme.email 不能为空")
	}

	names := make(map[string]bool)
	for _, cert := range config.Certificates {
		if len(cert.Domains) == 0 {
			return fmt.Errorf("证书 %s: 未配置域名", cert.Name)
		}
		if names[cert.Name] {
			return fmt.Errorf("证书名称重复: %s", cert.Name)
		}
		names[cert.Name] = true

		for _, d := range cert.Domains {
			if strings.Count(d, "*") > 1 || (strings.Contains(d, "*") && !strings.HasPrefix(d, "*.")) {
				return fmt.Errorf("证书 %s: 不支持的通配符域名 %s", cert.Name, d)
			}
		}

		if err := validateCredential(&cert.DNS); err != nil {
			return fmt.Errorf("证书 %s: %w", cert.Name, err)
		}

		for _, target := range cert.Deploy {
			if err := validateDeployTarget(config, target); err != nil {
				return fmt.Errorf("证书 %s: %w", cert.Name, err)
			}
		}
	}

	return nil
}

// validateCredential 验证DNS凭证
func validateCredential(cred *Credential) error {
	switch cred.Provider {
	case ProviderTencent, ProviderAliyun, ProviderHuawei:
	case "":
		return fmt.Errorf("未配置DNS提供商")
	default:
		return fmt.Errorf("不支持的DNS提供商: %s", cred.Provider)
	}

	if cred.SecretID == "" || cred.SecretKey == "" {
		return fmt.Errorf("%s DNS凭证不完整", cred.Provider)
	}
	if cred.TTL < 0 {
		return fmt.Errorf("dns.ttl 不能为负数")
	}
	return nil
}

// validateDeployTarget 验证部署目标凭证是否存在
func validateDeployTarget(config *Config, target string) error {
	switch NormalizeProvider(target) {
	case ProviderAliyun:
		if config.Providers.Aliyun == nil {
			return fmt.Errorf("部署目标 aliyun 未配置凭证")
		}
		if config.Providers.Aliyun.AccessKeyID == "" || config.Providers.Aliyun.AccessKeySecret == "" {
			return fmt.Errorf("aliyun 凭证不完整")
		}
	case ProviderTencent:
		if config.Providers.Tencent == nil {
			return fmt.Errorf("部署目标 tencent 未配置凭证")
		}
		if config.Providers.Tencent.SecretID == "" || config.Providers.Tencent.SecretKey == "" {
			return fmt.Errorf("tencent 凭证不完整")
		}
	default:
		return fmt.Errorf("不支持的部署目标: %s", target)
	}
	return nil
}
