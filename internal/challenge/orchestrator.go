// Package challenge 编排 ACME DNS-01 验证记录的添加与清理
package challenge

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/challenge/dns01"
	"go.uber.org/zap"

	"ssl-dns01/internal/domain"
	"ssl-dns01/internal/logger"
	"ssl-dns01/internal/provider"
	"ssl-dns01/internal/queue"
	"ssl-dns01/internal/zone"
)

const (
	// DefaultInterval 每次添加/删除记录后的间隔，避免触发平台限流
	DefaultInterval = 500 * time.Millisecond

	// DefaultCleanupJitter 清理入队前的最大随机等待
	DefaultCleanupJitter = 2 * time.Second

	defaultTimeout      = 2 * time.Minute
	defaultPollInterval = 5 * time.Second
)

// Hooks 验证记录的添加与清理
type Hooks interface {
	Setup(ctx context.Context, domain, value string) Result
	Cleanup(ctx context.Context, domain, value string) Result
}

// FailureFunc 验证记录操作失败时的回调
type FailureFunc func(domain string, result Result, err error)

type recordKey struct {
	domain string
	value  string
}

// Orchestrator 单个DNS凭证的验证记录编排器。
// 区域解析结果和操作队列都属于该编排器，随证书申请结束一起丢弃。
type Orchestrator struct {
	provider provider.DNSProvider
	resolver *zone.Resolver
	queue    *queue.Queue

	interval     time.Duration
	maxJitter    time.Duration
	jitter       func(limit time.Duration) time.Duration
	sleep        func(time.Duration)
	timeout      time.Duration
	pollInterval time.Duration
	checker      zone.DelegationChecker
	onFailure    FailureFunc
	log          *zap.SugaredLogger

	mu     sync.Mutex
	states map[recordKey]State
}

// Option 编排器选项
type Option func(*Orchestrator)

// WithInterval 设置每个操作后的间隔
func WithInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.interval = d
	}
}

// WithCleanupJitter 设置清理前随机等待的上限，0 表示不等待
func WithCleanupJitter(limit time.Duration) Option {
	return func(o *Orchestrator) {
		o.maxJitter = limit
	}
}

// WithSleep 替换等待函数
func WithSleep(sleep func(time.Duration)) Option {
	return func(o *Orchestrator) {
		o.sleep = sleep
	}
}

// WithTimeout 设置 lego 等待记录传播的超时和检查间隔
func WithTimeout(timeout, pollInterval time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.timeout = timeout
		}
		if pollInterval > 0 {
			o.pollInterval = pollInterval
		}
	}
}

// WithDelegationChecker 解析区域时核对NS委派
func WithDelegationChecker(checker zone.DelegationChecker) Option {
	return func(o *Orchestrator) {
		o.checker = checker
	}
}

// WithFailureFunc 设置失败回调
func WithFailureFunc(fn FailureFunc) Option {
	return func(o *Orchestrator) {
		o.onFailure = fn
	}
}

// WithLogger 设置日志器
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *Orchestrator) {
		o.log = log
	}
}

// New 创建编排器
func New(p provider.DNSProvider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:     p,
		interval:     DefaultInterval,
		maxJitter:    DefaultCleanupJitter,
		jitter:       randomJitter,
		sleep:        time.Sleep,
		timeout:      defaultTimeout,
		pollInterval: defaultPollInterval,
		states:       make(map[recordKey]State),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = logger.OrNop(o.log)

	resolverOpts := []zone.Option{zone.WithLogger(o.log)}
	if o.checker != nil {
		resolverOpts = append(resolverOpts, zone.WithDelegationChecker(o.checker))
	}
	o.resolver = zone.NewResolver(p, resolverOpts...)
	o.queue = queue.New(o.log)
	return o
}

// recordTarget 验证记录的位置。literal 为 false 时记录名是 _acme-challenge.<name>，
// 否则 name 本身就是记录名（_acme-challenge 经 CNAME 指向的目标）。
type recordTarget struct {
	name    string
	literal bool
}

func (t recordTarget) rr(m *zone.Match) string {
	if !t.literal {
		return m.ChallengeSubdomain()
	}
	if m.RelativeSubdomain == "" {
		return "@"
	}
	return m.RelativeSubdomain
}

// Setup 添加验证记录并等待添加完成
func (o *Orchestrator) Setup(ctx context.Context, fqdn, value string) Result {
	key := recordKey{domain: domain.Normalize(fqdn), value: value}
	return o.setup(ctx, key, recordTarget{name: key.domain})
}

func (o *Orchestrator) setup(ctx context.Context, key recordKey, target recordTarget) Result {
	value := key.value
	o.setState(key, StateZoneResolving)

	match, res, err := o.resolve(ctx, target.name)
	if err != nil {
		return o.fail(key, res, err)
	}

	rr := target.rr(match)
	o.log.Infof("[%s] 添加验证记录: %s (区域 %s)", o.provider.Name(), rr, match.Zone.Name)

	o.setState(key, StateQueued)
	done := o.queue.Enqueue(ctx, "create "+rr+"."+match.Zone.Name, func(ctx context.Context) error {
		return o.provider.CreateRecord(ctx, match.Zone, rr, value)
	}, o.interval)

	if err := <-done; err != nil {
		return o.fail(key, ResultFailed, fmt.Errorf("添加验证记录失败: %w", err))
	}

	o.setState(key, StateCreated)
	o.log.Infof("[%s] 验证记录已添加: %s.%s", o.provider.Name(), rr, match.Zone.Name)
	return ResultCreated
}

// Cleanup 删除验证记录。记录不存在只记警告。
func (o *Orchestrator) Cleanup(ctx context.Context, fqdn, value string) Result {
	key := recordKey{domain: domain.Normalize(fqdn), value: value}
	return o.cleanup(ctx, key, recordTarget{name: key.domain})
}

func (o *Orchestrator) cleanup(ctx context.Context, key recordKey, target recordTarget) Result {
	value := key.value

	match, res, err := o.resolve(ctx, target.name)
	if err != nil {
		// 添加时已报告过的失败不再重复回调
		if o.state(key) == StateFailed {
			o.log.Warnf("[%s] 验证记录 %s 未添加，跳过清理 (%s)", o.provider.Name(), key.domain, res)
			return res
		}
		return o.fail(key, res, err)
	}

	rr := target.rr(match)

	// 同一批验证的清理错开提交
	if o.maxJitter > 0 {
		o.sleep(o.jitter(o.maxJitter))
	}

	o.setState(key, StateCleanupQueued)
	done := o.queue.Enqueue(ctx, "delete "+rr+"."+match.Zone.Name, func(ctx context.Context) error {
		return o.provider.DeleteRecord(ctx, match.Zone, rr, value)
	}, o.interval)

	err = <-done
	switch {
	case err == nil:
		o.setState(key, StateRemoved)
		o.log.Infof("[%s] 验证记录已删除: %s.%s", o.provider.Name(), rr, match.Zone.Name)
		return ResultDeleted
	case errors.Is(err, provider.ErrRecordNotFound):
		o.setState(key, StateRemoved)
		o.log.Warnf("[%s] 待删除的验证记录不存在: %s.%s", o.provider.Name(), rr, match.Zone.Name)
		return ResultRecordNotFound
	default:
		return o.fail(key, ResultFailed, fmt.Errorf("删除验证记录失败: %w", err))
	}
}

// State 返回验证记录的当前状态
func (o *Orchestrator) State(fqdn, value string) State {
	return o.state(recordKey{domain: domain.Normalize(fqdn), value: value})
}

func (o *Orchestrator) state(key recordKey) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.states[key]
}

// Present 实现 lego challenge.Provider，结果只记录日志，不向 lego 返回错误。
// _acme-challenge 有 CNAME 时记录写在 CNAME 目标上，与 lego 的传播检查一致。
func (o *Orchestrator) Present(domainName, token, keyAuth string) error {
	info := dns01.GetChallengeInfo(domainName, keyAuth)
	key, target := o.challengeTarget(domainName, info)
	o.setup(context.Background(), key, target)
	return nil
}

// CleanUp 实现 lego challenge.Provider
func (o *Orchestrator) CleanUp(domainName, token, keyAuth string) error {
	info := dns01.GetChallengeInfo(domainName, keyAuth)
	key, target := o.challengeTarget(domainName, info)
	o.cleanup(context.Background(), key, target)
	return nil
}

func (o *Orchestrator) challengeTarget(domainName string, info dns01.ChallengeInfo) (recordKey, recordTarget) {
	key := recordKey{domain: domain.Normalize(domainName), value: info.Value}
	if info.EffectiveFQDN == "" || strings.EqualFold(info.EffectiveFQDN, info.FQDN) {
		return key, recordTarget{name: key.domain}
	}

	effective := domain.Normalize(info.EffectiveFQDN)
	o.log.Infof("[%s] %s 经 CNAME 指向 %s，验证记录写在目标上", o.provider.Name(), info.FQDN, effective)
	return key, recordTarget{name: effective, literal: true}
}

// Timeout 实现 lego challenge.ProviderTimeout
func (o *Orchestrator) Timeout() (timeout, interval time.Duration) {
	return o.timeout, o.pollInterval
}

func (o *Orchestrator) resolve(ctx context.Context, name string) (*zone.Match, Result, error) {
	match, err := o.resolver.Resolve(ctx, name)
	switch {
	case err == nil:
		return match, 0, nil
	case errors.Is(err, provider.ErrZoneNotFound):
		return nil, ResultZoneNotFound, err
	case errors.Is(err, provider.ErrZoneNotUsable):
		return nil, ResultZoneNotUsable, err
	default:
		return nil, ResultFailed, err
	}
}

func (o *Orchestrator) fail(key recordKey, res Result, err error) Result {
	o.setState(key, StateFailed)
	o.log.Errorf("[%s] 验证记录 %s 处理失败 (%s): %v", o.provider.Name(), key.domain, res, err)
	if o.onFailure != nil {
		o.onFailure(key.domain, res, err)
	}
	return res
}

func (o *Orchestrator) setState(key recordKey, state State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states[key] = state
}

func randomJitter(limit time.Duration) time.Duration {
	return time.Duration(rand.Int64N(int64(limit) + 1))
}
