package provider

import "context"

// CertDeployer 证书部署目标（上传到云平台证书管理服务）
type CertDeployer interface {
	// Name 返回提供商名称
	Name() string

	// UploadCertificate 上传证书，返回平台侧证书ID
	UploadCertificate(ctx context.Context, name string, cert *Certificate) (certID string, err error)
}
