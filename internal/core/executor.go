package core

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"ssl-dns01/internal/logger"
)

// Executor 命令执行器
type Executor struct {
	log *zap.SugaredLogger
}

// NewExecutor 创建执行器
func NewExecutor(log *zap.SugaredLogger) *Executor {
	return &Executor{log: logger.OrNop(log)}
}

// RunPostCommand 执行后置命令，命令中的 ${KEY} 会被替换为 vars 中的值
func (e *Executor) RunPostCommand(ctx context.Context, command string, vars map[string]string) error {
	if command == "" {
		return nil
	}

	command = Expand(command, vars)
	e.log.Infof("执行后置命令: %s", command)

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	for key, value := range vars {
		cmd.Env = append(cmd.Env, "SSL_"+key+"="+value)
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("执行命令失败: %w", err)
	}

	e.log.Infof("后置命令执行成功")
	return nil
}

// Expand 替换命令中的变量
func Expand(command string, vars map[string]string) string {
	for key, value := range vars {
		command = strings.ReplaceAll(command, "${"+key+"}", value)
	}
	return command
}

// BuildVars 构建变量映射
func (e *Executor) BuildVars(name string, domains []string, certDir, certFile, keyFile, fullchainFile string) map[string]string {
	var primary string
	if len(domains) > 0 {
		primary = domains[0]
	}

	return map[string]string{
		"NAME":           name,
		"DOMAIN":         primary,
		"DOMAINS":        strings.Join(domains, ","),
		"CERT_DIR":       certDir,
		"CERT_FILE":      certFile,
		"KEY_FILE":       keyFile,
		"FULLCHAIN_FILE": fullchainFile,
	}
}
