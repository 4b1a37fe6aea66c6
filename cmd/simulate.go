package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"Kickfolio/core/catalog"
	"Kickfolio/core/playback"
	"Kickfolio/logger"
	"Kickfolio/storage"

	"github.com/spf13/cobra"
)

var (
	simBase string
	simRate float64
	simLoop bool
)

// scaledClock 以 rate 倍速推进的时钟
func scaledClock(rate float64) func() time.Time {
	start := time.Now()
	return func() time.Time {
		elapsed := time.Since(start)
		return start.Add(time.Duration(float64(elapsed) * rate))
	}
}

var simulateCmd = &cobra.Command{
	Use:   "simulate <trackId>",
	Short: "无界面的 kick 显示：按模拟时钟播放曲目并输出脉冲",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		trackID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || trackID <= 0 {
			return fmt.Errorf("invalid track id %q", args[0])
		}
		if simRate <= 0 {
			return fmt.Errorf("rate must be positive")
		}
		base := simBase
		if base == "" {
			base = cfg.PublicURL
		}

		prefetch := playback.NewPrefetchCache(
			catalog.NewClient(base),
			storage.NewURLResolver(storage.PublicBase(cfg)),
			playback.WithTTL(cfg.CatalogTTL),
		)
		engine := playback.NewEngine(prefetch, playback.WithPulseDuration(cfg.PulseDuration))
		defer engine.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		state, err := engine.LoadTrack(ctx, trackID)
		if err != nil {
			return err
		}
		fmt.Printf("▶ %s - %s (%d kicks, %.0f BPM)\n  %s\n",
			state.Track.Artist, state.Track.Title, state.KickCount, state.Track.BPM, state.MediaURL)

		duration := state.Track.Duration
		if n := len(state.Track.EventTimestamps); duration <= 0 && n > 0 {
			duration = state.Track.EventTimestamps[n-1] + 1
		}

		start := time.Now()
		remove := engine.OnActivationPulse(func(p playback.Pulse) {
			if !p.Active {
				return
			}
			logger.Info("kick",
				logger.Int("index", p.Index),
				logger.Float64("timestamp", p.Timestamp),
				logger.Duration("wall", time.Since(start)))
			fmt.Printf("  ● #%d  %.3fs\n", p.Index, p.Timestamp)
		})
		defer remove()

		src := playback.NewSimulatedSource(duration, simLoop, scaledClock(simRate))
		src.Play()

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			ticker := time.NewTicker(100 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					if !src.Playing() {
						cancel()
						return
					}
				}
			}
		}()

		engine.Run(runCtx, src, cfg.SampleInterval)
		stats := engine.CacheStats()
		fmt.Printf("■ 结束于 %.2fs, 目录 %d 首, 已预取 %d\n", src.Position(), stats.CatalogSize, stats.PreloadedCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVar(&simBase, "base", "", "Kickfolio 服务器地址，默认 PUBLIC_URL")
	simulateCmd.Flags().Float64Var(&simRate, "rate", 1.0, "播放倍速")
	simulateCmd.Flags().BoolVar(&simLoop, "loop", false, "循环播放")
}
