// Package main 是 beacon 命令行工具的入口点
// beacon 用于调用函数宿主并检查其健康状态
package main

import (
	"os"

	"github.com/oriys/beacon/cmd/beacon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
