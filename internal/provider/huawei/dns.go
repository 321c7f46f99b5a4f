package huawei

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/huaweicloud/huaweicloud-sdk-go-v3/core/auth/basic"
	"github.com/huaweicloud/huaweicloud-sdk-go-v3/core/sdkerr"
	dns "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/dns/v2"
	dnsModel "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/dns/v2/model"
	dnsRegion "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/dns/v2/region"
	"go.uber.org/zap"

	"ssl-dns01/internal/config"
	"ssl-dns01/internal/logger"
	"ssl-dns01/internal/provider"
)

const (
	defaultRegion = "cn-north-4"
	zonePageSize  = 500
	statusActive  = "ACTIVE"
)

// nameServers 华为云公网解析的权威DNS，公网域名都委派到其中一组
var nameServers = []string{
	"ns1.huaweicloud-dns.com",
	"ns1.huaweicloud-dns.cn",
	"ns1.huaweicloud-dns.net",
	"ns1.huaweicloud-dns.org",
}

// recordSetAPI 用到的云解析接口，便于测试替换
type recordSetAPI interface {
	ListPublicZones(*dnsModel.ListPublicZonesRequest) (*dnsModel.ListPublicZonesResponse, error)
	ListRecordSetsByZone(*dnsModel.ListRecordSetsByZoneRequest) (*dnsModel.ListRecordSetsByZoneResponse, error)
	CreateRecordSet(*dnsModel.CreateRecordSetRequest) (*dnsModel.CreateRecordSetResponse, error)
	UpdateRecordSet(*dnsModel.UpdateRecordSetRequest) (*dnsModel.UpdateRecordSetResponse, error)
	DeleteRecordSet(*dnsModel.DeleteRecordSetRequest) (*dnsModel.DeleteRecordSetResponse, error)
}

// DNSProvider 华为云DNS提供商。
// 华为云的TXT记录以记录集为单位，同名多个值放在同一记录集里，且每个值需要加引号。
type DNSProvider struct {
	client recordSetAPI
	ttl    int32
	log    *zap.SugaredLogger
}

// NewDNSProvider 创建华为云DNS提供商
func NewDNSProvider(cred config.Credential, log *zap.SugaredLogger) (*DNSProvider, error) {
	auth, err := basic.NewCredentialsBuilder().
		WithAk(cred.SecretID).
		WithSk(cred.SecretKey).
		SafeBuild()
	if err != nil {
		return nil, fmt.Errorf("创建华为云凭证失败: %w", err)
	}

	region := cred.Region
	if region == "" {
		region = defaultRegion
	}

	regionObj, err := dnsRegion.SafeValueOf(region)
	if err != nil {
		return nil, fmt.Errorf("无效的区域: %s", region)
	}

	hcClient, err := dns.DnsClientBuilder().
		WithRegion(regionObj).
		WithCredential(auth).
		SafeBuild()
	if err != nil {
		return nil, fmt.Errorf("创建华为云DNS客户端失败: %w", err)
	}

	return newDNSProvider(dns.NewDnsClient(hcClient), cred.TTL, log), nil
}

func newDNSProvider(client recordSetAPI, ttl int, log *zap.SugaredLogger) *DNSProvider {
	return &DNSProvider{client: client, ttl: int32(ttl), log: logger.OrNop(log)}
}

// Name 返回提供商名称
func (p *DNSProvider) Name() string {
	return "huawei"
}

// ListZones 列出公网域名
func (p *DNSProvider) ListZones(ctx context.Context) ([]*provider.Zone, error) {
	var zones []*provider.Zone

	limit := int32(zonePageSize)
	for offset := int32(0); ; offset += limit {
		request := &dnsModel.ListPublicZonesRequest{
			Limit:  &limit,
			Offset: &offset,
		}

		response, err := p.client.ListPublicZones(request)
		if err != nil {
			return nil, fmt.Errorf("获取Zone列表失败: %w", wrapError("ListPublicZones", err))
		}
		if response.Zones == nil {
			break
		}

		for _, z := range *response.Zones {
			zone := &provider.Zone{
				ID:          stringValue(z.Id),
				Name:        strings.TrimSuffix(stringValue(z.Name), "."),
				NameServers: nameServers,
			}
			if status := stringValue(z.Status); status != "" && status != statusActive {
				zone.Disabled = true
				zone.Reason = "域名状态为 " + status
			}
			zones = append(zones, zone)
		}

		if len(*response.Zones) < zonePageSize {
			break
		}
	}

	p.log.Debugf("[华为云DNS] 共查询到 %d 个Zone", len(zones))
	return zones, nil
}

// CreateRecord 添加TXT记录，同名记录集已存在时追加值
func (p *DNSProvider) CreateRecord(ctx context.Context, zone *provider.Zone, rr, value string) error {
	recordName := fqdn(rr, zone.Name)
	quoted := quote(value)

	p.log.Infof("[华为云DNS] 添加记录: %s -> %s", recordName, value)

	recordSet, err := p.findRecordSet(zone, recordName)
	if err != nil {
		return err
	}

	if recordSet != nil {
		records := recordValues(recordSet)
		if slices.Contains(records, quoted) {
			p.log.Infof("[华为云DNS] 记录已存在")
			return nil
		}
		return p.updateRecordSet(zone, recordSet, append(records, quoted))
	}

	body := &dnsModel.CreateRecordSetRequestBody{
		Name:    recordName,
		Type:    provider.RecordTypeTXT,
		Records: []string{quoted},
	}
	if p.ttl > 0 {
		body.Ttl = &p.ttl
	}

	if _, err := p.client.CreateRecordSet(&dnsModel.CreateRecordSetRequest{
		ZoneId: zone.ID,
		Body:   body,
	}); err != nil {
		return fmt.Errorf("添加DNS记录失败: %w", wrapError("CreateRecordSet", err))
	}

	p.log.Infof("[华为云DNS] 记录已添加")
	return nil
}

// DeleteRecord 从记录集中移除值，记录集为空时整体删除
func (p *DNSProvider) DeleteRecord(ctx context.Context, zone *provider.Zone, rr, value string) error {
	recordName := fqdn(rr, zone.Name)
	quoted := quote(value)

	recordSet, err := p.findRecordSet(zone, recordName)
	if err != nil {
		return err
	}
	if recordSet == nil {
		return provider.ErrRecordNotFound
	}

	records := recordValues(recordSet)
	remaining := slices.DeleteFunc(slices.Clone(records), func(v string) bool { return v == quoted })
	if len(remaining) == len(records) {
		return provider.ErrRecordNotFound
	}

	if len(remaining) > 0 {
		p.log.Infof("[华为云DNS] 从记录集移除值: %s -> %s", recordName, value)
		return p.updateRecordSet(zone, recordSet, remaining)
	}

	p.log.Infof("[华为云DNS] 删除记录集: ID=%s, %s", stringValue(recordSet.Id), recordName)
	if _, err := p.client.DeleteRecordSet(&dnsModel.DeleteRecordSetRequest{
		ZoneId:      zone.ID,
		RecordsetId: stringValue(recordSet.Id),
	}); err != nil {
		return fmt.Errorf("删除DNS记录失败: %w", wrapError("DeleteRecordSet", err))
	}

	p.log.Infof("[华为云DNS] 记录已删除")
	return nil
}

func (p *DNSProvider) updateRecordSet(zone *provider.Zone, recordSet *dnsModel.ListRecordSets, records []string) error {
	name := stringValue(recordSet.Name)
	recordType := provider.RecordTypeTXT

	request := &dnsModel.UpdateRecordSetRequest{
		ZoneId:      zone.ID,
		RecordsetId: stringValue(recordSet.Id),
		Body: &dnsModel.UpdateRecordSetReq{
			Name:    &name,
			Type:    &recordType,
			Records: &records,
		},
	}

	if _, err := p.client.UpdateRecordSet(request); err != nil {
		return fmt.Errorf("更新DNS记录失败: %w", wrapError("UpdateRecordSet", err))
	}

	p.log.Infof("[华为云DNS] 记录集已更新，当前 %d 个值", len(records))
	return nil
}

// findRecordSet 查找名称完全一致的TXT记录集
func (p *DNSProvider) findRecordSet(zone *provider.Zone, recordName string) (*dnsModel.ListRecordSets, error) {
	recordType := provider.RecordTypeTXT
	request := &dnsModel.ListRecordSetsByZoneRequest{
		ZoneId: zone.ID,
		Name:   &recordName,
		Type:   &recordType,
	}

	response, err := p.client.ListRecordSetsByZone(request)
	if err != nil {
		return nil, fmt.Errorf("查询DNS记录失败: %w", wrapError("ListRecordSetsByZone", err))
	}
	if response.Recordsets == nil {
		return nil, nil
	}

	// Name 参数为模糊匹配
	for i := range *response.Recordsets {
		recordSet := &(*response.Recordsets)[i]
		if stringValue(recordSet.Name) == recordName && stringValue(recordSet.Type) == recordType {
			return recordSet, nil
		}
	}
	return nil, nil
}

// wrapError 将SDK错误转换为统一的 APIError
func wrapError(action string, err error) error {
	apiErr := &provider.APIError{Provider: "huawei", Action: action, Err: err}

	var respErr *sdkerr.ServiceResponseError
	if errors.As(err, &respErr) {
		apiErr.StatusCode = respErr.StatusCode
		apiErr.Code = respErr.ErrorCode
		apiErr.Message = respErr.ErrorMessage
		apiErr.RequestID = respErr.RequestId
	}
	return apiErr
}

func recordValues(recordSet *dnsModel.ListRecordSets) []string {
	if recordSet.Records == nil {
		return nil
	}
	return *recordSet.Records
}

// fqdn 华为云记录名为带末尾点的完整域名
func fqdn(rr, zone string) string {
	if rr == "" || rr == "@" {
		return zone + "."
	}
	return rr + "." + zone + "."
}

func quote(value string) string {
	return `"` + value + `"`
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
