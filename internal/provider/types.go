package provider

// Certificate 证书内容
type Certificate struct {
	Certificate string // 证书内容 (PEM格式)
	PrivateKey  string // 私钥 (PEM格式)
	Chain       string // 证书链 (可选)
	Issuer      string // 签发者证书 (可选)
}

// Zone 云平台托管的DNS区域
type Zone struct {
	ID          string   // 区域ID（部分平台为空）
	Name        string   // 区域名称，不带末尾的点
	Disabled    bool     // 区域已暂停、锁定或未正确解析到平台
	Reason      string   // Disabled 为 true 时的原因
	NameServers []string // 平台分配的权威DNS，用于核对委派
}

// DNSRecord DNS记录
type DNSRecord struct {
	RecordID string // 记录ID
	Zone     string // 区域名称
	RR       string // 主机记录 (子域名)
	Type     string // 记录类型
	Value    string // 记录值
	TTL      int    // TTL
}
