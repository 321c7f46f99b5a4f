// Package zone 将完整域名解析为云平台托管区域和相对主机记录
package zone

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"ssl-dns01/internal/domain"
	"ssl-dns01/internal/logger"
	"ssl-dns01/internal/provider"
)

// Lister 提供区域列表
type Lister interface {
	ListZones(ctx context.Context) ([]*provider.Zone, error)
}

// DelegationChecker 核对区域是否已委派到平台的权威DNS
type DelegationChecker interface {
	CheckDelegation(ctx context.Context, zone *provider.Zone) error
}

// Match 区域匹配结果
type Match struct {
	Zone              *provider.Zone
	RelativeSubdomain string // 区域顶点时为空
}

// ChallengeSubdomain 返回验证记录的主机记录
func (m *Match) ChallengeSubdomain() string {
	return domain.ChallengeSubdomain(m.RelativeSubdomain)
}

// NotUsableError 匹配到的区域不可用
type NotUsableError struct {
	Zone   string
	Reason string
}

func (e *NotUsableError) Error() string {
	return fmt.Sprintf("区域 %s 不可用: %s", e.Zone, e.Reason)
}

func (e *NotUsableError) Unwrap() error {
	return provider.ErrZoneNotUsable
}

type result struct {
	match *Match
	err   error
}

// Resolver 区域解析器
// 区域列表最多成功拉取一次；每个域名的结果（包括未找到、不可用）在解析器生命周期内缓存。
type Resolver struct {
	lister  Lister
	checker DelegationChecker
	log     *zap.SugaredLogger

	mu     sync.Mutex
	zones  []*provider.Zone
	listed bool
	cache  map[string]result
}

// Option 解析器选项
type Option func(*Resolver)

// WithDelegationChecker 启用委派核对
func WithDelegationChecker(checker DelegationChecker) Option {
	return func(r *Resolver) {
		r.checker = checker
	}
}

// WithLogger 设置日志器
func WithLogger(log *zap.SugaredLogger) Option {
	return func(r *Resolver) {
		r.log = log
	}
}

// NewResolver 创建区域解析器
func NewResolver(lister Lister, opts ...Option) *Resolver {
	r := &Resolver{
		lister: lister,
		cache:  make(map[string]result),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.OrNop(r.log)
	return r
}

// Resolve 解析域名所属区域
// 返回 provider.ErrZoneNotFound、*NotUsableError 或接口调用错误
func (r *Resolver) Resolve(ctx context.Context, fqdn string) (*Match, error) {
	name := domain.Normalize(fqdn)

	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.cache[name]; ok {
		return cached.match, cached.err
	}

	zones, err := r.listZones(ctx)
	if err != nil {
		return nil, err
	}

	match, err := r.match(ctx, name, zones)
	if err != nil && !cacheable(err) {
		return nil, err
	}
	r.cache[name] = result{match: match, err: err}
	return match, err
}

func (r *Resolver) listZones(ctx context.Context) ([]*provider.Zone, error) {
	if r.listed {
		return r.zones, nil
	}

	zones, err := r.lister.ListZones(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取区域列表失败: %w", err)
	}

	r.zones = zones
	r.listed = true
	r.log.Debugf("[区域] 共获取到 %d 个托管区域", len(zones))
	return zones, nil
}

func (r *Resolver) match(ctx context.Context, name string, zones []*provider.Zone) (*Match, error) {
	best := Longest(name, zones)
	if best == nil {
		return nil, fmt.Errorf("%w: %s", provider.ErrZoneNotFound, name)
	}

	if best.Disabled {
		return nil, &NotUsableError{Zone: best.Name, Reason: best.Reason}
	}

	if r.checker != nil {
		if err := r.checker.CheckDelegation(ctx, best); err != nil {
			var notUsable *NotUsableError
			if errors.As(err, &notUsable) {
				return nil, notUsable
			}
			// 查询DNS本身失败时不阻断验证，交给CA侧结果
			r.log.Warnf("[区域] 核对 %s 的NS委派失败: %v", best.Name, err)
		}
	}

	m := &Match{
		Zone:              best,
		RelativeSubdomain: domain.RelativeSubdomain(name, domain.Normalize(best.Name)),
	}
	r.log.Debugf("[区域] %s -> 区域 %s, 主机记录 %q", name, best.Name, m.RelativeSubdomain)
	return m, nil
}

// Longest 选出与域名按点对齐后缀匹配的最长区域，没有匹配时返回 nil
func Longest(name string, zones []*provider.Zone) *provider.Zone {
	var best *provider.Zone
	for _, z := range zones {
		zoneName := domain.Normalize(z.Name)
		if !domain.IsSubDomain(name, zoneName) {
			continue
		}
		if best == nil || len(zoneName) > len(domain.Normalize(best.Name)) {
			best = z
		}
	}
	return best
}

func cacheable(err error) bool {
	return errors.Is(err, provider.ErrZoneNotFound) || errors.Is(err, provider.ErrZoneNotUsable)
}
