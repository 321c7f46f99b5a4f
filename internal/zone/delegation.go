package zone

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	"ssl-dns01/internal/provider"
)

// DefaultNameservers 默认使用的递归DNS
var DefaultNameservers = []string{
	"223.5.5.5:53",
	"119.29.29.29:53",
	"8.8.8.8:53",
}

// NSChecker 通过查询区域的NS记录核对委派
type NSChecker struct {
	nameservers []string
	client      *dns.Client
}

// NewNSChecker 创建NS核对器，nameservers 为空时使用 DefaultNameservers
func NewNSChecker(nameservers []string, timeout time.Duration) *NSChecker {
	if len(nameservers) == 0 {
		nameservers = DefaultNameservers
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	normalized := make([]string, 0, len(nameservers))
	for _, ns := range nameservers {
		if !strings.Contains(ns, ":") {
			ns += ":53"
		}
		normalized = append(normalized, ns)
	}

	return &NSChecker{
		nameservers: normalized,
		client:      &dns.Client{Timeout: timeout},
	}
}

// CheckDelegation 区域未声明平台权威DNS时跳过；
// NS 与平台DNS没有交集时返回 *NotUsableError
func (c *NSChecker) CheckDelegation(ctx context.Context, zone *provider.Zone) error {
	if len(zone.NameServers) == 0 {
		return nil
	}

	actual, err := c.LookupNS(ctx, zone.Name)
	if err != nil {
		return err
	}
	if len(actual) == 0 {
		return &NotUsableError{Zone: zone.Name, Reason: "未查询到NS记录"}
	}

	expected := make(map[string]bool, len(zone.NameServers))
	for _, ns := range zone.NameServers {
		expected[normalizeHost(ns)] = true
	}
	for _, ns := range actual {
		if expected[ns] {
			return nil
		}
	}

	return &NotUsableError{
		Zone:   zone.Name,
		Reason: fmt.Sprintf("NS记录 %v 未指向平台DNS %v", actual, zone.NameServers),
	}
}

// LookupNS 查询区域的NS记录，依次尝试各个递归DNS
func (c *NSChecker) LookupNS(ctx context.Context, name string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeNS)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range c.nameservers {
		in, _, err := c.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = fmt.Errorf("查询 %s 失败: %w", server, err)
			continue
		}

		switch in.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			return nil, nil
		default:
			lastErr = fmt.Errorf("查询 %s 返回 %s", server, dns.RcodeToString[in.Rcode])
			continue
		}

		var hosts []string
		for _, rr := range in.Answer {
			if ns, ok := rr.(*dns.NS); ok {
				hosts = append(hosts, normalizeHost(ns.Ns))
			}
		}
		return hosts, nil
	}

	return nil, lastErr
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
}
