package core

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	domainpkg "ssl-dns01/internal/domain"
	"ssl-dns01/internal/logger"
	"ssl-dns01/internal/storage"
)

// CertLoader 读取本地保存的证书
type CertLoader interface {
	LoadCertificate(name string) (*x509.Certificate, error)
}

// Validator 证书验证器：先检查本地证书，本地没有时再检查线上证书
type Validator struct {
	loader CertLoader
	dial   func(ctx context.Context, addr string) (*x509.Certificate, error)
	now    func() time.Time
	log    *zap.SugaredLogger
}

// NewValidator 创建验证器
func NewValidator(loader CertLoader, log *zap.SugaredLogger) *Validator {
	return &Validator{
		loader: loader,
		dial:   probeTLS,
		now:    time.Now,
		log:    logger.OrNop(log),
	}
}

// NeedRenew 判断是否需要续期（检查过期时间和域名覆盖），返回当前证书的过期时间
func (v *Validator) NeedRenew(ctx context.Context, name string, domains []string, renewDays int) (bool, time.Time, error) {
	cert, err := v.loader.LoadCertificate(name)
	switch {
	case err == nil:
		return v.evaluate("本地", cert, domains, renewDays), cert.NotAfter, nil
	case errors.Is(err, storage.ErrNotFound):
		v.log.Debugf("本地没有证书 %s，检查线上证书", name)
	default:
		v.log.Warnf("读取本地证书 %s 失败: %v，检查线上证书", name, err)
	}

	target := probeTarget(domains)
	if target == "" {
		v.log.Infof("证书 %s 只包含通配符域名且本地没有证书，需要申请", name)
		return true, time.Time{}, nil
	}

	cert, err = v.dial(ctx, net.JoinHostPort(target, "443"))
	if err != nil {
		v.log.Infof("无法获取 %s 的线上证书: %v，将申请新证书", target, err)
		return true, time.Time{}, nil
	}

	return v.evaluate("线上", cert, domains, renewDays), cert.NotAfter, nil
}

func (v *Validator) evaluate(source string, cert *x509.Certificate, domains []string, renewDays int) bool {
	certDomains := certificateDomains(cert)
	if !domainpkg.CoversAll(certDomains, domains) {
		v.log.Infof("%s证书域名不匹配 (证书域名: %v, 目标域名: %v)，需要重新申请", source, certDomains, domains)
		return true
	}

	daysUntilExpiry := int(cert.NotAfter.Sub(v.now()).Hours() / 24)
	v.log.Infof("%s证书将在 %d 天后过期 (%s)", source, daysUntilExpiry, cert.NotAfter.Format("2006-01-02"))
	return daysUntilExpiry <= renewDays
}

// DaysRemaining 返回距离过期的天数
func (v *Validator) DaysRemaining(expiry time.Time) int {
	return int(expiry.Sub(v.now()).Hours() / 24)
}

// certificateDomains 收集证书覆盖的所有域名（CN + SANs）
func certificateDomains(cert *x509.Certificate) []string {
	var domains []string
	if cert.Subject.CommonName != "" {
		domains = append(domains, cert.Subject.CommonName)
	}
	return append(domains, cert.DNSNames...)
}

// probeTarget 选择用于线上检查的域名，通配符域名无法直接连接
func probeTarget(domains []string) string {
	for _, d := range domains {
		if !strings.HasPrefix(d, "*.") {
			return d
		}
	}
	return ""
}

func probeTLS(ctx context.Context, addr string) (*x509.Certificate, error) {
	host, _, _ := net.SplitHostPort(addr)
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: 10 * time.Second},
		Config: &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: true,
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("连接失败: %w", err)
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, fmt.Errorf("未找到证书")
	}
	return certs[0], nil
}
