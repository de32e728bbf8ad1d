package cmd

import (
	"github.com/spf13/cobra"

	"sunoman/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动生成管理服务器",
	Long:  `启动HTTP服务器，提供歌曲管理、批量提交、状态轮询和自动下载服务`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
