package challenge

// Result 验证记录操作的结果，编排器不向调用方返回错误
type Result int

const (
	ResultCreated Result = iota + 1
	ResultDeleted
	ResultRecordNotFound
	ResultZoneNotFound
	ResultZoneNotUsable
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultCreated:
		return "created"
	case ResultDeleted:
		return "deleted"
	case ResultRecordNotFound:
		return "record_not_found"
	case ResultZoneNotFound:
		return "zone_not_found"
	case ResultZoneNotUsable:
		return "zone_not_usable"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OK 记录已处于期望状态
func (r Result) OK() bool {
	return r == ResultCreated || r == ResultDeleted || r == ResultRecordNotFound
}

// State 单条验证记录 (域名, 值) 的生命周期状态
type State int

const (
	StateIdle State = iota
	StateZoneResolving
	StateQueued
	StateCreated
	StateCleanupQueued
	StateRemoved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateZoneResolving:
		return "zone_resolving"
	case StateQueued:
		return "queued"
	case StateCreated:
		return "created"
	case StateCleanupQueued:
		return "cleanup_queued"
	case StateRemoved:
		return "removed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
