package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"Kickfolio/cache"
	"Kickfolio/core/kicks"
	"Kickfolio/db"
	"Kickfolio/logger"
	"Kickfolio/repository"

	"github.com/spf13/cobra"
)

var (
	kickNote   int
	kickOutput string
	kickCSV    bool
)

var kicksCmd = &cobra.Command{
	Use:   "kicks",
	Short: "节拍时间戳工具",
	Long:  `把鼓轨导出（MIDI / CSV / JSON）转换为曲目的 kick 时间戳，并写入数据库。`,
}

var kicksConvertCmd = &cobra.Command{
	Use:   "convert <file.mid|file.csv|file.json>",
	Short: "转换为 JSON 时间戳数组",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		var out []byte
		if kickCSV {
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".mid" && ext != ".midi" {
				return fmt.Errorf("--csv needs a MIDI input, got %s", ext)
			}
			events, err := kicks.ReadMIDIFile(path)
			if err != nil {
				return err
			}
			var sb strings.Builder
			if err := kicks.WriteCSV(&sb, events); err != nil {
				return err
			}
			out = []byte(sb.String())
			fmt.Fprintf(os.Stderr, "✓ %d note_on events\n", len(events))
		} else {
			ts, err := kicks.Load(path, kickNote)
			if err != nil {
				return err
			}
			if out, err = kicks.MarshalTimestamps(ts); err != nil {
				return err
			}
			out = append(out, '\n')
			fmt.Fprintf(os.Stderr, "✓ %d kicks\n", len(ts))
		}

		if kickOutput == "" {
			_, err := os.Stdout.Write(out)
			return err
		}
		return os.WriteFile(kickOutput, out, 0o644)
	},
}

// newImporter 连接数据库；Redis 可用时导入后通知所有实例失效目录缓存
func newImporter() (*kicks.Importer, func(), error) {
	if err := db.ConnectGormDB(cfg); err != nil {
		return nil, nil, err
	}
	cleanup := func() { db.CloseGormDB() }

	var inv kicks.Invalidator
	if err := db.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis 不可用，运行中的服务器需要等待目录缓存过期", logger.ErrorField(err))
	} else {
		inv = cache.NewCatalogCache(db.RedisClient, cfg.CatalogTTL)
		cleanup = func() {
			db.CloseRedis()
			db.CloseGormDB()
		}
	}
	return kicks.NewImporter(repository.NewGormTrackRepository(db.GormDB), inv, kickNote), cleanup, nil
}

var kicksImportCmd = &cobra.Command{
	Use:   "import <trackId> <file>",
	Short: "导入到曲目",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		trackID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || trackID <= 0 {
			return fmt.Errorf("invalid track id %q", args[0])
		}

		importer, cleanup, err := newImporter()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := importer.Import(ctx, trackID, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("✓ 曲目 %d 已写入 %d 个 kick\n", trackID, n)
		return nil
	},
}

var kicksWatchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "监听目录，自动导入 <trackId>.mid|.csv|.json",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		importer, cleanup, err := newImporter()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return importer.Watch(ctx, args[0])
	},
}

func init() {
	rootCmd.AddCommand(kicksCmd)
	kicksCmd.AddCommand(kicksConvertCmd, kicksImportCmd, kicksWatchCmd)

	kicksCmd.PersistentFlags().IntVarP(&kickNote, "note", "n", kicks.AnyNote,
		fmt.Sprintf("只保留该 MIDI 音符，默认全部（%d 为 GM 底鼓）", kicks.DefaultKickNote))
	kicksConvertCmd.Flags().StringVarP(&kickOutput, "output", "o", "", "输出文件，默认标准输出")
	kicksConvertCmd.Flags().BoolVar(&kickCSV, "csv", false, "把 MIDI 的全部音符导出为 CSV")

	kicksCmd.Example = `  # MIDI 转 JSON 时间戳，只取底鼓
  kickfolio kicks convert drums.mid -n 36 -o kicks.json

  # MIDI 全部音符导出为 CSV
  kickfolio kicks convert drums.mid --csv -o drums.csv

  # 写入曲目 4
  kickfolio kicks import 4 drums.csv

  # 监听目录
  kickfolio kicks watch ./kicks`
}
