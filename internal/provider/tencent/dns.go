package tencent

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	dnspod "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/dnspod/v20210323"
	"go.uber.org/zap"

	"ssl-dns01/internal/config"
	"ssl-dns01/internal/logger"
	"ssl-dns01/internal/provider"
)

const (
	domainPageSize = 100
	defaultLine    = "默认"

	codeNoDataOfRecord = "ResourceNotFound.NoDataOfRecord"
	codeNoDataOfDomain = "ResourceNotFound.NoDataOfDomain"
)

// DNSProvider 腾讯云DNS提供商 (DNSPod)
type DNSProvider struct {
	client *Client
	ttl    uint64
	log    *zap.SugaredLogger
}

// NewDNSProvider 创建腾讯云DNS提供商
func NewDNSProvider(cred config.Credential, log *zap.SugaredLogger, opts ...ClientOption) (*DNSProvider, error) {
	if cred.Region != "" {
		opts = append([]ClientOption{WithRegion(cred.Region)}, opts...)
	}

	client, err := NewClient(cred.SecretID, cred.SecretKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("创建腾讯云DNSPod客户端失败: %w", err)
	}

	return &DNSProvider{
		client: client,
		ttl:    uint64(cred.TTL),
		log:    logger.OrNop(log),
	}, nil
}

// Name 返回提供商名称
func (p *DNSProvider) Name() string {
	return "tencent"
}

// ListZones 列出账号下的全部域名
func (p *DNSProvider) ListZones(ctx context.Context) ([]*provider.Zone, error) {
	var zones []*provider.Zone

	for offset := int64(0); ; offset += domainPageSize {
		request := dnspod.NewDescribeDomainListRequest()
		request.Offset = common.Int64Ptr(offset)
		request.Limit = common.Int64Ptr(domainPageSize)

		response := dnspod.NewDescribeDomainListResponse()
		if err := p.client.Call(ctx, "DescribeDomainList", request, response); err != nil {
			if isCode(err, codeNoDataOfDomain) {
				break
			}
			return nil, fmt.Errorf("获取域名列表失败: %w", err)
		}
		if response.Response == nil {
			break
		}

		for _, item := range response.Response.DomainList {
			if item == nil || item.Name == nil {
				continue
			}
			zones = append(zones, toZone(item))
		}

		if len(response.Response.DomainList) < domainPageSize {
			break
		}
	}

	p.log.Debugf("[腾讯云DNS] 共查询到 %d 个域名", len(zones))
	return zones, nil
}

// toZone 转换域名信息，暂停、锁定或NS未指向DNSPod的域名标记为不可用
func toZone(item *dnspod.DomainListItem) *provider.Zone {
	zone := &provider.Zone{Name: *item.Name}
	if item.DomainId != nil {
		zone.ID = strconv.FormatUint(*item.DomainId, 10)
	}

	status := stringValue(item.Status)
	switch {
	case status != "" && status != "ENABLE":
		zone.Disabled = true
		zone.Reason = "域名状态为 " + status
	case stringValue(item.DNSStatus) == "DNSERROR":
		zone.Disabled = true
		zone.Reason = "域名NS未指向DNSPod"
	}
	return zone
}

// CreateRecord 添加TXT记录
func (p *DNSProvider) CreateRecord(ctx context.Context, zone *provider.Zone, rr, value string) error {
	p.log.Infof("[腾讯云DNS] 添加记录: %s.%s -> %s", rr, zone.Name, value)

	// 先检查是否已存在相同记录
	existing, err := p.findRecords(ctx, zone, rr, value)
	if err != nil {
		p.log.Warnf("[腾讯云DNS] 检查现有记录失败: %v", err)
	}
	if len(existing) > 0 {
		p.log.Infof("[腾讯云DNS] 记录已存在: ID=%s", existing[0].RecordID)
		return nil
	}

	request := dnspod.NewCreateRecordRequest()
	request.Domain = common.StringPtr(zone.Name)
	request.SubDomain = common.StringPtr(rr)
	request.RecordType = common.StringPtr(provider.RecordTypeTXT)
	request.RecordLine = common.StringPtr(defaultLine)
	request.Value = common.StringPtr(value)
	if p.ttl > 0 {
		request.TTL = common.Uint64Ptr(p.ttl)
	}

	response := dnspod.NewCreateRecordResponse()
	if err := p.client.Call(ctx, "CreateRecord", request, response); err != nil {
		return fmt.Errorf("添加DNS记录失败: %w", err)
	}

	if response.Response != nil && response.Response.RecordId != nil {
		p.log.Infof("[腾讯云DNS] 记录已添加: ID=%d", *response.Response.RecordId)
	}
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
		p.log.Infof("[腾讯云DNS] 删除记录: ID=%s, %s.%s", record.RecordID, rr, zone.Name)

		recordID, err := strconv.ParseUint(record.RecordID, 10, 64)
		if err != nil {
			return fmt.Errorf("无效的记录ID %s: %w", record.RecordID, err)
		}

		request := dnspod.NewDeleteRecordRequest()
		request.Domain = common.StringPtr(zone.Name)
		request.RecordId = common.Uint64Ptr(recordID)

		response := dnspod.NewDeleteRecordResponse()
		if err := p.client.Call(ctx, "DeleteRecord", request, response); err != nil {
			return fmt.Errorf("删除DNS记录失败: %w", err)
		}
	}

	p.log.Infof("[腾讯云DNS] 记录已删除")
	return nil
}

// findRecords 查找主机记录和值都匹配的TXT记录
func (p *DNSProvider) findRecords(ctx context.Context, zone *provider.Zone, rr, value string) ([]*provider.DNSRecord, error) {
	request := dnspod.NewDescribeRecordListRequest()
	request.Domain = common.StringPtr(zone.Name)
	request.Subdomain = common.StringPtr(rr)
	request.RecordType = common.StringPtr(provider.RecordTypeTXT)

	response := dnspod.NewDescribeRecordListResponse()
	if err := p.client.Call(ctx, "DescribeRecordList", request, response); err != nil {
		// 没有记录时腾讯云返回错误
		if isCode(err, codeNoDataOfRecord) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询DNS记录失败: %w", err)
	}

	var records []*provider.DNSRecord
	if response.Response == nil {
		return records, nil
	}
	for _, item := range response.Response.RecordList {
		if item == nil || stringValue(item.Name) != rr || stringValue(item.Value) != value {
			continue
		}
		record := &provider.DNSRecord{
			Zone:  zone.Name,
			RR:    stringValue(item.Name),
			Type:  stringValue(item.Type),
			Value: stringValue(item.Value),
		}
		if item.RecordId != nil {
			record.RecordID = strconv.FormatUint(*item.RecordId, 10)
		}
		if item.TTL != nil {
			record.TTL = int(*item.TTL)
		}
		records = append(records, record)
	}
	return records, nil
}

func isCode(err error, code string) bool {
	var apiErr *provider.APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
