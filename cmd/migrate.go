package cmd

import (
	"context"
	"fmt"
	"time"

	"Kickfolio/db"
	"Kickfolio/repository"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "数据库迁移",
	Long:  `根据模型自动创建或更新 tracks、track_sections、analytics_events 表。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.ConnectGormDB(cfg); err != nil {
			return err
		}
		defer db.CloseGormDB()

		if err := db.AutoMigrateModels(); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		count, err := repository.NewGormTrackRepository(db.GormDB).Count(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("迁移完成，当前曲目数: %d\n", count)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
