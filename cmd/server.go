package cmd

import (
	"Kickfolio/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 Kickfolio 服务器",
	Long:  `启动 Kickfolio 的 HTTP 服务器，提供目录、管理端、统计和 websocket 播放会话接口`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
