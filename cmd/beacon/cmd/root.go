// Package cmd 包含 beacon CLI 工具的所有命令实现
// 使用 cobra 框架构建命令行接口
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/oriys/beacon/internal/hostclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// 全局命令行标志变量
var (
	cfgFile   string // 配置文件路径
	apiURL    string // 函数宿主地址
	outputFmt string // 输出格式（text/json）
)

// rootCmd 是 CLI 的根命令
var rootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Beacon - function host CLI",
	Long: `beacon 是用于调用函数宿主、检查其健康状态的命令行工具。

使用示例:
  # 调用默认路由上的函数
  beacon invoke

  # 指定调用 ID，便于在遥测后端检索
  beacon invoke / --method POST --id my-op-1

  # 连续调用 20 次并汇总成功率
  beacon invoke --count 20

  # 检查就绪状态
  beacon health ready`,
	SilenceUsage: true,
}

// Execute 执行根命令，由 main 包调用
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径（默认为 $HOME/.beacon.yaml）")
	rootCmd.PersistentFlags().StringVarP(&apiURL, "api-url", "u", "http://localhost:7071", "函数宿主地址")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "text", "输出格式（text、json）")

	viper.BindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api-url"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
}

// initConfig 按优先级加载配置：命令行标志 > 环境变量 > 配置文件
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".beacon")
	}

	// 环境变量格式：BEACON_<KEY>，如 BEACON_API_URL
	viper.SetEnvPrefix("BEACON")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

func newClient() *hostclient.Client {
	return hostclient.New(viper.GetString("api_url"))
}

// commandContext 返回命令的上下文，未通过 ExecuteContext 启动时使用 Background。
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
