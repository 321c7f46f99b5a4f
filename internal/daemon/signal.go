package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"ssl-dns01/internal/logger"
)

// SignalHandler 信号处理器
type SignalHandler struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.SugaredLogger
}

// NewSignalHandler 创建信号处理器
func NewSignalHandler(parent context.Context, log *zap.SugaredLogger) *SignalHandler {
	ctx, cancel := context.WithCancel(parent)
	return &SignalHandler{ctx: ctx, cancel: cancel, log: logger.OrNop(log)}
}

// Context 返回收到退出信号后取消的 context
func (h *SignalHandler) Context() context.Context {
	return h.ctx
}

// Start 开始监听 SIGINT、SIGTERM
func (h *SignalHandler) Start() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			h.log.Infof("收到信号 %v，正在优雅关闭...", sig)
			h.cancel()
		case <-h.ctx.Done():
		}
	}()
}

// Stop 停止监听并取消 context
func (h *SignalHandler) Stop() {
	h.cancel()
}
