package aliyun

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"ssl-dns01/internal/config"
	"ssl-dns01/internal/logger"
	"ssl-dns01/internal/provider"
)

const (
	domainPageSize = 100
	recordPageSize = 500

	codeRecordDuplicate = "DomainRecordDuplicate"
)

type describeDomainsResponse struct {
	TotalCount int64 `json:"TotalCount"`
	PageNumber int64 `json:"PageNumber"`
	PageSize   int64 `json:"PageSize"`
	Domains    struct {
		Domain []struct {
			DomainID   string `json:"DomainId"`
			DomainName string `json:"DomainName"`
			DNSServers struct {
				DNSServer []string `json:"DnsServer"`
			} `json:"DnsServers"`
		} `json:"Domain"`
	} `json:"Domains"`
}

type describeDomainNsResponse struct {
	AllAliDNS        bool `json:"AllAliDns"`
	IncludeAliDNS    bool `json:"IncludeAliDns"`
	ExpectDNSServers struct {
		ExpectDNSServer []string `json:"ExpectDnsServer"`
	} `json:"ExpectDnsServers"`
	DNSServers struct {
		DNSServer []string `json:"DnsServer"`
	} `json:"DnsServers"`
}

type describeDomainRecordsResponse struct {
	TotalCount    int64 `json:"TotalCount"`
	DomainRecords struct {
		Record []struct {
			RecordID string `json:"RecordId"`
			RR       string `json:"RR"`
			Type     string `json:"Type"`
			Value    string `json:"Value"`
			TTL      int    `json:"TTL"`
		} `json:"Record"`
	} `json:"DomainRecords"`
}

type recordIDResponse struct {
	RecordID string `json:"RecordId"`
}

// DNSProvider 阿里云DNS提供商
type DNSProvider struct {
	client *Client
	ttl    int
	log    *zap.SugaredLogger
}

// NewDNSProvider 创建阿里云DNS提供商
func NewDNSProvider(cred config.Credential, log *zap.SugaredLogger, opts ...ClientOption) (*DNSProvider, error) {
	client, err := NewClient(cred.SecretID, cred.SecretKey, cred.Region, opts...)
	if err != nil {
		return nil, fmt.Errorf("创建阿里云DNS客户端失败: %w", err)
	}

	return &DNSProvider{
		client: client,
		ttl:    cred.TTL,
		log:    logger.OrNop(log),
	}, nil
}

// Name 返回提供商名称
func (p *DNSProvider) Name() string {
	return "aliyun"
}

// ListZones 列出账号下的全部域名，NameServers 取平台分配的DNS服务器。
// 当前NS不含阿里云DNS的域名标记为不可用。
func (p *DNSProvider) ListZones(ctx context.Context) ([]*provider.Zone, error) {
	var zones []*provider.Zone

	for page := int64(1); ; page++ {
		params := url.Values{}
		params.Set("PageNumber", strconv.FormatInt(page, 10))
		params.Set("PageSize", strconv.Itoa(domainPageSize))

		var response describeDomainsResponse
		if err := p.client.Call(ctx, "DescribeDomains", params, &response); err != nil {
			return nil, fmt.Errorf("获取域名列表失败: %w", err)
		}

		for _, d := range response.Domains.Domain {
			zone := &provider.Zone{
				ID:          d.DomainID,
				Name:        d.DomainName,
				NameServers: d.DNSServers.DNSServer,
			}
			p.checkNS(ctx, zone)
			zones = append(zones, zone)
		}

		if len(response.Domains.Domain) < domainPageSize || page*domainPageSize >= response.TotalCount {
			break
		}
	}

	p.log.Debugf("[阿里云DNS] 共查询到 %d 个域名", len(zones))
	return zones, nil
}

// checkNS 查询域名当前的NS，查询失败只记录警告
func (p *DNSProvider) checkNS(ctx context.Context, zone *provider.Zone) {
	params := url.Values{}
	params.Set("DomainName", zone.Name)

	var response describeDomainNsResponse
	if err := p.client.Call(ctx, "DescribeDomainNs", params, &response); err != nil {
		p.log.Warnf("[阿里云DNS] 查询域名 %s 的NS失败: %v", zone.Name, err)
		return
	}

	if expected := response.ExpectDNSServers.ExpectDNSServer; len(expected) > 0 {
		zone.NameServers = expected
	}
	if !response.IncludeAliDNS {
		zone.Disabled = true
		zone.Reason = fmt.Sprintf("域名NS %v 未指向阿里云DNS", response.DNSServers.DNSServer)
	}
}

// CreateRecord 添加TXT记录
func (p *DNSProvider) CreateRecord(ctx context.Context, zone *provider.Zone, rr, value string) error {
	p.log.Infof("[阿里云DNS] 添加记录: %s.%s -> %s", rr, zone.Name, value)

	params := url.Values{}
	params.Set("DomainName", zone.Name)
	params.Set("RR", rr)
	params.Set("Type", provider.RecordTypeTXT)
	params.Set("Value", value)
	if p.ttl > 0 {
		params.Set("TTL", strconv.Itoa(p.ttl))
	}

	var response recordIDResponse
	if err := p.client.Call(ctx, "AddDomainRecord", params, &response); err != nil {
		// 相同记录已存在
		var apiErr *provider.APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeRecordDuplicate {
			p.log.Infof("[阿里云DNS] 记录已存在")
			return nil
		}
		return fmt.Errorf("添加DNS记录失败: %w", err)
	}

	p.log.Infof("[阿里云DNS] 记录已添加: ID=%s", response.RecordID)
	return nil
}

// DeleteRecord 删除主机记录和值都匹配的TXT记录
func (p *DNSProvider) DeleteRecord(ctx context.Context, zone *provider.Zone, rr, value string) error {
	records, err := p.findRecords(ctx, zone, rr, value)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return provider.ErrRecordNotFound
	}

	for _, record := range records {
		p.log.Infof("[阿里云DNS] 删除记录: ID=%s, %s.%s", record.RecordID, rr, zone.Name)

		params := url.Values{}
		params.Set("RecordId", record.RecordID)
		if err := p.client.Call(ctx, "DeleteDomainRecord", params, &recordIDResponse{}); err != nil {
			return fmt.Errorf("删除DNS记录失败: %w", err)
		}
	}

	p.log.Infof("[阿里云DNS] 记录已删除")
	return nil
}

// findRecords 查找主机记录和值都匹配的TXT记录
func (p *DNSProvider) findRecords(ctx context.Context, zone *provider.Zone, rr, value string) ([]*provider.DNSRecord, error) {
	params := url.Values{}
	params.Set("DomainName", zone.Name)
	params.Set("RRKeyWord", rr)
	params.Set("Type", provider.RecordTypeTXT)
	params.Set("PageSize", strconv.Itoa(recordPageSize))

	var response describeDomainRecordsResponse
	if err := p.client.Call(ctx, "DescribeDomainRecords", params, &response); err != nil {
		return nil, fmt.Errorf("查询DNS记录失败: %w", err)
	}

	var records []*provider.DNSRecord
	for _, r := range response.DomainRecords.Record {
		// RRKeyWord 为模糊匹配，这里按主机记录和值精确过滤
		if r.RR != rr || r.Value != value {
			continue
		}
		records = append(records, &provider.DNSRecord{
			RecordID: r.RecordID,
			Zone:     zone.Name,
			RR:       r.RR,
			Type:     r.Type,
			Value:    r.Value,
			TTL:      r.TTL,
		})
	}
	return records, nil
}
