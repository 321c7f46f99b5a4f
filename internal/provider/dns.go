package provider

import "context"

// RecordTypeTXT ACME DNS-01 使用的记录类型
const RecordTypeTXT = "TXT"

// DNSProvider DNS提供商接口
type DNSProvider interface {
	// Name 返回提供商名称
	Name() string

	// ListZones 列出账号下托管的全部区域
	ListZones(ctx context.Context) ([]*Zone, error)

	// CreateRecord 在区域下添加TXT记录
	// rr: 主机记录 (如 _acme-challenge.www)，区域顶点之外的部分
	// 已存在相同主机记录和值的记录时直接返回成功
	CreateRecord(ctx context.Context, zone *Zone, rr, value string) error

	// DeleteRecord 删除主机记录和值都匹配的TXT记录
	// 没有匹配的记录时返回 ErrRecordNotFound
	DeleteRecord(ctx context.Context, zone *Zone, rr, value string) error
}
