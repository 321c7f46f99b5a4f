package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ssl-dns01/internal/config"
	"ssl-dns01/internal/core"
	"ssl-dns01/internal/daemon"
	"ssl-dns01/internal/logger"
)

const exampleConfig = `  acme:
    email: "ops@example.com"
    # directory: "https://acme-staging-v02.api.letsencrypt.org/directory"
    propagation_timeout: 120
    check_delegation: true

  providers:
    tencent:
      secret_id: "xxx"
      secret_key: "xxx"

  certificates:
    - name: "example.com"
      domains: ["example.com", "*.example.com"]
      dns:
        provider: "tencent"     # tencent | aliyun | huawei，不填密钥时使用 providers 中的凭证
        ttl: 600
      deploy: ["tencent"]       # 签发后上传到云平台证书管理
      renew_days: 30

  output_dir: "./certs"
  check_interval: 24`

type rootOptions struct {
	configPath string
	only       string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ssl-dns01",
		Short: "通过 ACME DNS-01 自动签发证书 (支持腾讯云、阿里云、华为云DNS)",
		Long: "检查证书有效期，需要时通过 ACME DNS-01 验证签发新证书，保存到本地并上传到云平台。\n\n配置文件示例:\n" +
			exampleConfig,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "配置文件路径")
	cmd.Flags().StringVar(&opts.only, "only", "", "只处理指定名称的证书")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "启动守护进程（后台运行）",
			RunE: func(cmd *cobra.Command, args []string) error {
				d := daemon.NewDaemon(opts.configPath, cliLogger())
				if err := d.Start(); err != nil {
					return fmt.Errorf("启动失败: %w", err)
				}
				// 后台化的子进程继续执行守护逻辑
				if daemon.IsDaemonized() {
					return runDaemon(opts, d)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "停止守护进程",
			RunE: func(cmd *cobra.Command, args []string) error {
				return daemon.NewDaemon(opts.configPath, cliLogger()).Stop(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "restart",
			Short: "重启守护进程",
			RunE: func(cmd *cobra.Command, args []string) error {
				return daemon.NewDaemon(opts.configPath, cliLogger()).Restart(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "查看运行状态",
			Run: func(cmd *cobra.Command, args []string) {
				st := daemon.NewDaemon(opts.configPath, nil).Status()
				fmt.Fprintln(cmd.OutOrStdout(), st.String())
			},
		},
		&cobra.Command{
			Use:   "daemon",
			Short: "守护进程模式（前台运行，定时检查）",
			RunE: func(cmd *cobra.Command, args []string) error {
				var d *daemon.Daemon
				if daemon.IsDaemonized() {
					d = daemon.NewDaemon(opts.configPath, nil)
				}
				return runDaemon(opts, d)
			},
		},
		&cobra.Command{
			Use:   "account",
			Short: "只注册（或校验）ACME 账号",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAccount(opts)
			},
		},
	)

	return cmd
}

// cliLogger 不依赖配置文件的控制台日志器，用于 start/stop/restart
func cliLogger() *zap.SugaredLogger {
	zl, err := logger.New("info", "console")
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return zl.Sugar()
}

// setup 加载配置并创建日志器和管理器
func setup(opts *rootOptions) (*config.Config, *zap.SugaredLogger, *core.Manager, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}

	if opts.only != "" {
		var selected []config.CertificateConfig
		for _, c := range cfg.Certificates {
			if c.Name == opts.only {
				selected = append(selected, c)
			}
		}
		if len(selected) == 0 {
			return nil, nil, nil, fmt.Errorf("配置中没有名为 %s 的证书", opts.only)
		}
		cfg.Certificates = selected
	}

	zl, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, nil, err
	}
	log := zl.Sugar()

	return cfg, log, core.NewManager(cfg, log), nil
}

func runOnce(opts *rootOptions) error {
	_, log, manager, err := setup(opts)
	if err != nil {
		return err
	}
	defer log.Sync()

	sigHandler := daemon.NewSignalHandler(context.Background(), log)
	sigHandler.Start()
	defer sigHandler.Stop()

	return manager.Run(sigHandler.Context())
}

func runAccount(opts *rootOptions) error {
	cfg, log, manager, err := setup(opts)
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := manager.CreateAccount(context.Background()); err != nil {
		return err
	}
	log.Infof("ACME 账号可用: %s (%s)", cfg.ACME.Email, cfg.ACME.Directory)
	return nil
}

// runDaemon 定时检查；d 不为空时写入 PID 文件
func runDaemon(opts *rootOptions, d *daemon.Daemon) error {
	cfg, log, manager, err := setup(opts)
	if err != nil {
		return err
	}
	defer log.Sync()

	if d != nil {
		if err := d.WritePid(); err != nil {
			return fmt.Errorf("写入PID失败: %w", err)
		}
		defer d.RemovePid()
	}

	sigHandler := daemon.NewSignalHandler(context.Background(), log)
	sigHandler.Start()
	defer sigHandler.Stop()

	log.Infof("守护进程已启动，PID: %d，检查间隔: %d 小时", os.Getpid(), cfg.CheckInterval)

	daemon.RunLoop(sigHandler.Context(), time.Duration(cfg.CheckInterval)*time.Hour, log, manager.Run)
	return nil
}
