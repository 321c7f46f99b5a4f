package aliyun

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	cas "github.com/alibabacloud-go/cas-20200407/v3/client"
	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	"github.com/alibabacloud-go/tea/tea"
	"go.uber.org/zap"

	"ssl-dns01/internal/config"
	"ssl-dns01/internal/logger"
	"ssl-dns01/internal/provider"
)

// CertDeployer 阿里云数字证书管理服务上传
type CertDeployer struct {
	client *cas.Client
	log    *zap.SugaredLogger
}

// NewCertDeployer 创建阿里云证书部署目标
func NewCertDeployer(cfg *config.AliyunConfig, log *zap.SugaredLogger) (*CertDeployer, error) {
	clientConfig := &openapi.Config{
		AccessKeyId:     tea.String(cfg.AccessKeyID),
		AccessKeySecret: tea.String(cfg.AccessKeySecret),
		Endpoint:        tea.String("cas.aliyuncs.com"),
	}

	client, err := cas.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("创建阿里云CAS客户端失败: %w", err)
	}

	return &CertDeployer{client: client, log: logger.OrNop(log)}, nil
}

// Name 返回提供商名称
func (p *CertDeployer) Name() string {
	return "aliyun"
}

// UploadCertificate 上传证书到阿里云数字证书管理服务
func (p *CertDeployer) UploadCertificate(ctx context.Context, name string, cert *provider.Certificate) (string, error) {
	p.log.Infof("[阿里云] 上传证书: %s", name)

	publicKey := cert.Chain
	if publicKey == "" {
		publicKey = cert.Certificate
	}

	request := &cas.UploadUserCertificateRequest{
		Name: tea.String(name),
		Cert: tea.String(publicKey),
		Key:  tea.String(cert.PrivateKey),
	}

	response, err := p.client.UploadUserCertificate(request)
	if err != nil {
		return "", fmt.Errorf("上传证书失败: %w", sdkError("UploadUserCertificate", err))
	}
	if response.Body == nil || response.Body.CertId == nil {
		return "", fmt.Errorf("上传证书失败: 响应中没有证书ID")
	}

	certID := strconv.FormatInt(tea.Int64Value(response.Body.CertId), 10)
	p.log.Infof("[阿里云] 证书上传成功，CertId: %s", certID)
	return certID, nil
}

func sdkError(action string, err error) error {
	var sdkErr *tea.SDKError
	if errors.As(err, &sdkErr) {
		return &provider.APIError{
			Provider:   "aliyun",
			Action:     action,
			StatusCode: tea.IntValue(sdkErr.StatusCode),
			Code:       tea.StringValue(sdkErr.Code),
			Message:    tea.StringValue(sdkErr.Message),
		}
	}
	return &provider.APIError{Provider: "aliyun", Action: action, Err: err}
}
