package tencent

import (
	"context"
	"errors"
	"fmt"

	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	sdkerrors "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/errors"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	ssl "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/ssl/v20191205"
	"go.uber.org/zap"

	"ssl-dns01/internal/config"
	"ssl-dns01/internal/logger"
	"ssl-dns01/internal/provider"
)

// CertDeployer 腾讯云SSL证书上传
type CertDeployer struct {
	client *ssl.Client
	log    *zap.SugaredLogger
}

// NewCertDeployer 创建腾讯云证书部署目标
func NewCertDeployer(cfg *config.TencentConfig, log *zap.SugaredLogger) (*CertDeployer, error) {
	credential := common.NewCredential(cfg.SecretID, cfg.SecretKey)
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = "ssl.tencentcloudapi.com"

	region := cfg.Region
	if region == "" {
		region = "ap-guangzhou"
	}

	client, err := ssl.NewClient(credential, region, cpf)
	if err != nil {
		return nil, fmt.Errorf("创建腾讯云SSL客户端失败: %w", err)
	}

	return &CertDeployer{client: client, log: logger.OrNop(log)}, nil
}

// Name 返回提供商名称
func (p *CertDeployer) Name() string {
	return "tencent"
}

// UploadCertificate 上传证书到腾讯云SSL证书管理
func (p *CertDeployer) UploadCertificate(ctx context.Context, name string, cert *provider.Certificate) (string, error) {
	p.log.Infof("[腾讯云] 上传证书: %s", name)

	publicKey := cert.Chain
	if publicKey == "" {
		publicKey = cert.Certificate
	}

	request := ssl.NewUploadCertificateRequest()
	request.CertificatePublicKey = common.StringPtr(publicKey)
	request.CertificatePrivateKey = common.StringPtr(cert.PrivateKey)
	request.CertificateType = common.StringPtr("SVR")
	request.Alias = common.StringPtr(name)

	response, err := p.client.UploadCertificateWithContext(ctx, request)
	if err != nil {
		return "", fmt.Errorf("上传证书失败: %w", sdkError("UploadCertificate", err))
	}
	if response.Response == nil || response.Response.CertificateId == nil {
		return "", fmt.Errorf("上传证书失败: 响应中没有证书ID")
	}

	certID := *response.Response.CertificateId
	p.log.Infof("[腾讯云] 证书上传成功，CertificateId: %s", certID)
	return certID, nil
}

// sdkError 将 SDK 错误转换为 *provider.APIError
func sdkError(action string, err error) error {
	var sdkErr *sdkerrors.TencentCloudSDKError
	if errors.As(err, &sdkErr) {
		return &provider.APIError{
			Provider:  "tencent",
			Action:    action,
			Code:      sdkErr.GetCode(),
			Message:   sdkErr.GetMessage(),
			RequestID: sdkErr.GetRequestId(),
		}
	}
	return &provider.APIError{Provider: "tencent", Action: action, Err: err}
}
