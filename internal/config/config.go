package config

import "time"

// Config 配置结构
type Config struct {
	// 云平台凭证配置（证书部署，以及证书未单独配置DNS凭证时的回退）
	Providers ProvidersConfig `yaml:"providers"`

	// ACME 配置
	ACME ACMEConfig `yaml:"acme"`

	// 证书配置
	Certificates []CertificateConfig `yaml:"certificates"`

	// 全局配置
	OutputDir     string `yaml:"output_dir"`
	CheckInterval int    `yaml:"check_interval"` // 检查间隔（小时）
	PostCommand   string `yaml:"post_command"`   // 全局后置命令
	Concurrency   int    `yaml:"concurrency"`    // 并发处理数，默认1

	// 日志配置
	Log LogConfig `yaml:"log"`

	// Webhook 通知配置
	Webhook *WebhookConfig `yaml:"webhook,omitempty"`
}

// ProvidersConfig 云平台凭证配置
type ProvidersConfig struct {
	Aliyun  *AliyunConfig  `yaml:"aliyun,omitempty"`
	Tencent *TencentConfig `yaml:"tencent,omitempty"`
	Huawei  *HuaweiConfig  `yaml:"huawei,omitempty"`
}

// AliyunConfig 阿里云配置
type AliyunConfig struct {
	AccessKeyID     string `yaml:"access_key_id"`
	AccessKeySecret string `yaml:"access_key_secret"`
	Region          string `yaml:"region"`
}

// TencentConfig 腾讯云配置
type TencentConfig struct {
	SecretID  string `yaml:"secret_id"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// HuaweiConfig 华为云配置
type HuaweiConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// ACMEConfig ACME 账号与验证配置
type ACMEConfig struct {
	Email     string `yaml:"email"`
	Directory string `yaml:"directory"` // ACME 目录地址，默认 Let's Encrypt 生产环境
	KeyType   string `yaml:"key_type"`  // 证书私钥类型：ec256, ec384, rsa2048, rsa4096

	// 递归DNS服务器，用于检查TXT记录传播和区域委派
	Nameservers []string `yaml:"nameservers,omitempty"`

	PropagationTimeout int   `yaml:"propagation_timeout"` // TXT 记录传播等待时间（秒）
	PollingInterval    int   `yaml:"polling_interval"`    // 传播检查间隔（秒）
	CheckDelegation    *bool `yaml:"check_delegation"`    // 解析区域时核对NS委派，默认开启
}

// DelegationCheckEnabled 未配置 check_delegation 时默认核对委派
func (a *ACMEConfig) DelegationCheckEnabled() bool {
	return a.CheckDelegation == nil || *a.CheckDelegation
}

// PropagationTimeoutDuration 返回传播等待时间
func (a *ACMEConfig) PropagationTimeoutDuration() time.Duration {
	return time.Duration(a.PropagationTimeout) * time.Second
}

// PollingIntervalDuration 返回传播检查间隔
func (a *ACMEConfig) PollingIntervalDuration() time.Duration {
	return time.Duration(a.PollingInterval) * time.Second
}

// CertificateConfig 证书配置，一个证书可以包含多个域名（含通配符）
type CertificateConfig struct {
	Name        string     `yaml:"name"`
	Domains     []string   `yaml:"domains"`
	DNS         Credential `yaml:"dns"`
	Deploy      []string   `yaml:"deploy,omitempty"` // 上传目标：tencent, aliyun
	RenewDays   int        `yaml:"renew_days"`
	PostCommand string     `yaml:"post_command,omitempty"`
}

// Credential DNS提供商凭证，单次证书申请内不可变
type Credential struct {
	Provider  string `yaml:"provider"`   // tencent, aliyun, huawei（vendor-a、vendor-b 为别名）
	SecretID  string `yaml:"secret_id"`  // 腾讯云 SecretId / 阿里云 AccessKeyId / 华为云 AK
	SecretKey string `yaml:"secret_key"` // 腾讯云 SecretKey / 阿里云 AccessKeySecret / 华为云 SK
	Region    string `yaml:"region,omitempty"`
	TTL       int    `yaml:"ttl,omitempty"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// WebhookConfig Webhook 通知配置
type WebhookConfig struct {
	Enabled      bool              `yaml:"enabled"`                 // 是否启用
	URL          string            `yaml:"url"`                     // Webhook URL
	Headers      map[string]string `yaml:"headers,omitempty"`       // 自定义请求头
	Events       []string          `yaml:"events,omitempty"`        // 订阅的事件类型
	Timeout      int               `yaml:"timeout,omitempty"`       // 请求超时时间（秒），默认30
	Retries      int               `yaml:"retries,omitempty"`       // 重试次数，默认3
	BodyTemplate string            `yaml:"body_template,omitempty"` // 请求体模板（JSON格式）
}
