// Package queue 提供按凭证串行执行DNS变更的操作队列
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ssl-dns01/internal/logger"
)

// Operation 排队执行的操作
type Operation func(ctx context.Context) error

type task struct {
	name     string
	ctx      context.Context
	op       Operation
	interval time.Duration
	done     chan error
}

// Queue 操作队列
// 所有操作按提交顺序逐个执行，绝不并发；每个操作完成后等待 interval 才开始下一个。
// 工作协程在有任务时启动，队列清空后退出。
type Queue struct {
	mu      sync.Mutex
	tasks   []*task
	running bool

	sleep func(time.Duration)
	log   *zap.SugaredLogger
}

// New 创建队列
func New(log *zap.SugaredLogger) *Queue {
	return &Queue{
		sleep: time.Sleep,
		log:   logger.OrNop(log),
	}
}

// Enqueue 追加操作到队尾，返回的 channel 在操作执行完成后收到结果。
// 操作一旦入队必定执行：ctx 的取消不会传递给操作。
func (q *Queue) Enqueue(ctx context.Context, name string, op Operation, interval time.Duration) <-chan error {
	t := &task{
		name:     name,
		ctx:      context.WithoutCancel(ctx),
		op:       op,
		interval: interval,
		done:     make(chan error, 1),
	}

	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	pending := len(q.tasks)
	start := !q.running
	q.running = true
	q.mu.Unlock()

	q.log.Debugf("[队列] 操作入队: %s (待执行 %d)", name, pending)

	if start {
		go q.run()
	}
	return t.done
}

// Len 返回尚未开始执行的操作数
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) run() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		t := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		err := q.execute(t)
		t.done <- err
		close(t.done)

		if t.interval > 0 {
			q.sleep(t.interval)
		}
	}
}

func (q *Queue) execute(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("操作 %s 异常: %v", t.name, r)
		}
	}()

	start := time.Now()
	err = t.op(t.ctx)
	q.log.Debugf("[队列] 操作完成: %s, 耗时 %v", t.name, time.Since(start))
	return err
}
