package main

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/zzenonn/zplace/internal/domain"
	"github.com/zzenonn/zplace/internal/placement"
)

var distributionCmd = &cobra.Command{
	Use:   "distribution [pool]",
	Short: "Place a batch of synthetic objects and print shards per target",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pool := poolArg(args)
		a, err := openPool(context.Background(), pool)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		defer a.Close()

		red, err := classFlag(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		count, _ := cmd.Flags().GetInt("objects")
		quiet, _ := cmd.Flags().GetBool("quiet")

		h, err := a.Registry.Acquire(pool)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		defer h.Release()

		perTarget := make(map[domain.TargetID]int)
		degraded := 0
		bar := newBar(count, "placing", quiet)
		for i := range count {
			layout, err := h.ComputeLayout(syntheticID(i), red)
			bar.Add(1)
			if err != nil {
				if layout == nil {
					fmt.Printf("\nError: %v\n", err)
					return
				}
				degraded++
			}
			for _, s := range layout.Shards {
				perTarget[s.Target]++
			}
		}
		bar.Finish()

		fmt.Printf("\nversion %d, %d objects, %d degraded\n", h.Version(), count, degraded)
		for _, t := range slices.Sorted(maps.Keys(perTarget)) {
			fmt.Printf("target %d\t%d\n", t, perTarget[t])
		}
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild [pool]",
	Short: "Plan the shard moves caused by target failures and drains",
	Long: "Scans a batch of synthetic objects and summarizes the shards that must be rebuilt " +
		"for status changes newer than --since.",
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pool := poolArg(args)
		a, err := openPool(context.Background(), pool)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		defer a.Close()

		red, err := classFlag(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		count, _ := cmd.Flags().GetInt("objects")
		since, _ := cmd.Flags().GetUint64("since")
		quiet, _ := cmd.Flags().GetBool("quiet")

		h, err := a.Registry.Acquire(pool)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		defer h.Release()

		reasons := make(map[placement.RebuildReason]int)
		destinations := make(map[domain.TargetID]int)
		affected := 0
		bar := newBar(count, "planning", quiet)
		for i := range count {
			tasks, err := h.FindRebuild(syntheticID(i), red, since)
			bar.Add(1)
			if err != nil {
				fmt.Printf("\nError: %v\n", err)
				return
			}
			if len(tasks) > 0 {
				affected++
			}
			for _, t := range tasks {
				reasons[t.Reason]++
				if t.To != domain.NoTarget {
					destinations[t.To]++
				}
			}
		}
		bar.Finish()

		fmt.Printf("\nversion %d, %d of %d objects affected\n", h.Version(), affected, count)
		for _, r := range slices.Sorted(maps.Keys(reasons)) {
			fmt.Printf("%s\t%d\n", r, reasons[r])
		}
		for _, t := range slices.Sorted(maps.Keys(destinations)) {
			fmt.Printf("to target %d\t%d\n", t, destinations[t])
		}
	},
}

func syntheticID(i int) domain.ObjectID {
	return domain.ObjectID{Hi: 0x5a, Lo: uint64(i)}
}

func newBar(count int, description string, quiet bool) *progressbar.ProgressBar {
	if quiet {
		return progressbar.DefaultSilent(int64(count), description)
	}
	return progressbar.Default(int64(count), description)
}

func init() {
	for _, c := range []*cobra.Command{distributionCmd, rebuildCmd} {
		c.Flags().Int("objects", 10000, "number of synthetic objects to scan")
		c.Flags().BoolP("quiet", "q", false, "hide the progress bar")
		rootCmd.AddCommand(c)
	}
	rebuildCmd.Flags().Uint64("since", 0, "only count status changes newer than this version")
}
