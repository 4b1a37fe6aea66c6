package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"Kickfolio/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix    string
	minioStats     bool
	minioRecursive bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `查看音频存储桶中的文件和统计信息。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		store, err := storage.NewStore(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		objects, stats, err := store.ListObjects(ctx, minioPrefix, minioRecursive || minioStats)
		if err != nil {
			return err
		}

		if minioStats {
			fmt.Printf("\n存储桶 %s 统计信息:\n", store.Bucket())
			fmt.Printf("  对象数量: %d\n", stats.TotalObjects)
			fmt.Printf("  总大小:   %s\n", storage.FormatSize(stats.TotalSize))
			if !stats.LastModified.IsZero() {
				fmt.Printf("  最近修改: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
			}
			types := make([]string, 0, len(stats.SizeByType))
			for t := range stats.SizeByType {
				types = append(types, t)
			}
			sort.Strings(types)
			for _, t := range types {
				fmt.Printf("  %-8s %s\n", t, storage.FormatSize(stats.SizeByType[t]))
			}
			return nil
		}

		fmt.Printf("\n列出存储桶中的文件 (前缀: %q):\n", minioPrefix)
		for _, obj := range objects {
			fmt.Printf("  %-60s %10s  %s\n", obj.Key, storage.FormatSize(obj.Size), obj.LastModified.Format("2006-01-02 15:04"))
		}
		fmt.Printf("\n共 %d 个对象, %s\n", stats.TotalObjects, storage.FormatSize(stats.TotalSize))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤文件")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "显示存储桶统计信息")
	minioCmd.Flags().BoolVarP(&minioRecursive, "recursive", "r", false, "递归列出子目录")

	minioCmd.Example = `  # 列出所有文件
  kickfolio minio

  # 按前缀过滤文件
  kickfolio minio -p "1700000000"

  # 显示存储桶统计信息
  kickfolio minio -s`
}
