package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sunoman/config"
	"sunoman/core/suno"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "查询Suno账户额度",
	Long:  `使用配置的cookie连接Suno，验证会话并打印账户剩余额度，可用于确认cookie是否有效。`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		cookie := cfg.SunoCookie
		if data, err := os.ReadFile(cfg.CookieFile); err == nil {
			if fileCookie := strings.TrimSpace(string(data)); fileCookie != "" {
				cookie = fileCookie
			}
		}
		if cookie == "" {
			log.Fatal("未配置cookie，请设置SUNO_COOKIE或cookie文件")
		}

		client, err := suno.NewClient(cookie)
		if err != nil {
			log.Fatalf("创建客户端失败: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		fmt.Println("正在验证Suno会话...")
		if err := client.Init(ctx); err != nil {
			log.Fatalf("会话验证失败，cookie可能已过期: %v", err)
		}
		fmt.Println("会话有效！")

		credits, err := client.GetCredits(ctx)
		if err != nil {
			log.Fatalf("查询额度失败: %v", err)
		}

		fmt.Printf("\n剩余额度: %.0f\n", credits.CreditsLeft)
		if credits.MonthlyLimit > 0 {
			fmt.Printf("本月已用: %.0f / %.0f\n", credits.MonthlyUsage, credits.MonthlyLimit)
		}
	},
}

func init() {
	rootCmd.AddCommand(creditsCmd)
}
