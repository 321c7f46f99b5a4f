package domain

import "strings"

// ChallengeLabel ACME DNS-01 验证记录的固定前缀
const ChallengeLabel = "_acme-challenge"

// Normalize 规范化域名：小写、去掉首尾空白、末尾的点以及通配符前缀
// 例如: *.Example.COM. -> example.com
func Normalize(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimSuffix(domain, ".")
	return strings.TrimPrefix(domain, "*.")
}

// IsSubDomain 检查 domain 是否等于 zone 或是 zone 按点对齐的子域名
func IsSubDomain(domain, zone string) bool {
	return domain == zone || strings.HasSuffix(domain, "."+zone)
}

// RelativeSubdomain 返回 domain 去掉 zone 后剩余的主机部分
// 例如: a.b.example.com 相对 example.com -> a.b；example.com 相对 example.com -> ""
func RelativeSubdomain(domain, zone string) string {
	if domain == zone {
		return ""
	}
	return strings.TrimSuffix(domain, "."+zone)
}

// ChallengeSubdomain 构造验证记录的主机记录
// 例如: "" -> _acme-challenge, "www" -> _acme-challenge.www
func ChallengeSubdomain(relative string) string {
	if relative == "" {
		return ChallengeLabel
	}
	return ChallengeLabel + "." + relative
}

// MatchDomain 检查证书域名是否覆盖目标域名（支持通配符，只匹配一级）
func MatchDomain(certDomain, targetDomain string) bool {
	certDomain = strings.ToLower(certDomain)
	targetDomain = strings.ToLower(targetDomain)

	// 完全匹配
	if certDomain == targetDomain {
		return true
	}

	// 通配符匹配
	if strings.HasPrefix(certDomain, "*.") {
		base := strings.TrimPrefix(certDomain, "*.")
		if !strings.HasSuffix(targetDomain, "."+base) {
			return false
		}
		label := strings.TrimSuffix(targetDomain, "."+base)
		return label != "" && !strings.Contains(label, ".")
	}

	return false
}

// CoversAll 检查证书域名列表是否覆盖全部目标域名
func CoversAll(certDomains, targets []string) bool {
	for _, target := range targets {
		covered := false
		for _, certDomain := range certDomains {
			if MatchDomain(certDomain, target) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}
