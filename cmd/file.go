package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/zzenonn/zplace/internal/app"
	"github.com/zzenonn/zplace/internal/domain"
	"github.com/zzenonn/zplace/internal/service"
)

const objectScheme = "zp://"

// parseObjectURL splits zp://pool/oid.
func parseObjectURL(s string) (string, domain.ObjectID, error) {
	rest, ok := strings.CutPrefix(s, objectScheme)
	if !ok {
		return "", domain.ObjectID{}, fmt.Errorf("URL must start with %s", objectScheme)
	}
	pool, oidStr, ok := strings.Cut(rest, "/")
	if !ok || pool == "" {
		return "", domain.ObjectID{}, fmt.Errorf("URL must be %spool/oid", objectScheme)
	}
	oid, err := domain.ParseObjectID(oidStr)
	if err != nil {
		return "", domain.ObjectID{}, err
	}
	return pool, oid, nil
}

// openObjectService loads the pool and connects it to the target store.
func openObjectService(ctx context.Context, pool string) (*app.App, *service.ObjectService, error) {
	a, err := openPool(ctx, pool)
	if err != nil {
		return nil, nil, err
	}
	svc, err := a.NewObjectService()
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, svc, nil
}

var putCmd = &cobra.Command{
	Use:   "put [file-path] [zp://pool/oid]",
	Short: "Store a file on the targets of its layout",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		filePath := args[0]
		pool, oid, err := parseObjectURL(args[1])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		red, err := classFlag(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}

		file, err := os.Open(filePath)
		if err != nil {
			fmt.Printf("Error opening file: %v\n", err)
			return
		}
		defer file.Close()

		var reader io.Reader = file
		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			size := int64(-1)
			if stat, err := file.Stat(); err == nil {
				size = stat.Size()
			}
			pbReader := progressbar.NewReader(file, progressbar.DefaultBytes(size, "reading"))
			reader = &pbReader
		}

		ctx := context.Background()
		a, svc, err := openObjectService(ctx, pool)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		defer a.Close()
		defer svc.Close()

		res, err := svc.Put(ctx, pool, oid, red, reader)
		if err != nil {
			fmt.Printf("\nError storing object: %v\n", err)
			return
		}
		fmt.Printf("\nStored %s as %s (%d shards, %d failed)\n", filePath, res.Layout, res.Written, len(res.Failed))
	},
}

var getCmd = &cobra.Command{
	Use:   "get [zp://pool/oid] [output-path]",
	Short: "Read an object back from its targets",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		pool, oid, err := parseObjectURL(args[0])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		outputPath := args[1]
		red, err := classFlag(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}

		ctx := context.Background()
		a, svc, err := openObjectService(ctx, pool)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		defer a.Close()
		defer svc.Close()

		reader, err := svc.Get(ctx, pool, oid, red)
		if err != nil {
			fmt.Printf("Error reading object: %v\n", err)
			return
		}
		defer reader.Close()

		if stat, err := os.Stat(outputPath); err == nil && stat.IsDir() {
			outputPath = filepath.Join(outputPath, oid.String())
		}
		if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
			fmt.Printf("Error creating output directory: %v\n", err)
			return
		}

		outFile, err := os.Create(outputPath)
		if err != nil {
			fmt.Printf("Error creating output file: %v\n", err)
			return
		}
		defer outFile.Close()

		if _, err := io.Copy(outFile, reader); err != nil {
			fmt.Printf("Error writing file: %v\n", err)
			return
		}
		fmt.Printf("Object %s/%s written to %s\n", pool, oid, outputPath)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [zp://pool/oid]",
	Short: "Delete every shard of an object",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pool, oid, err := parseObjectURL(args[0])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		red, err := classFlag(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}

		ctx := context.Background()
		a, svc, err := openObjectService(ctx, pool)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		defer a.Close()
		defer svc.Close()

		if err := svc.Delete(ctx, pool, oid, red); err != nil {
			fmt.Printf("Error deleting object: %v\n", err)
			return
		}
		fmt.Printf("Object %s/%s deleted\n", pool, oid)
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair [zp://pool/oid]",
	Short: "Rebuild the shards of an object that moved since a version",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pool, oid, err := parseObjectURL(args[0])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		red, err := classFlag(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		since, _ := cmd.Flags().GetUint64("since")

		ctx := context.Background()
		a, svc, err := openObjectService(ctx, pool)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		defer a.Close()
		defer svc.Close()

		res, err := svc.Rebuild(ctx, pool, oid, red, since)
		if err != nil {
			fmt.Printf("Error rebuilding object: %v\n", err)
			return
		}
		for _, t := range res.Moved {
			fmt.Printf("shard %d.%d: %d -> %d (%s)\n", t.Group, t.Shard, t.From, t.To, t.Reason)
		}
		for _, t := range res.Failed {
			fmt.Printf("shard %d.%d: %d -> %d (%s) FAILED\n", t.Group, t.Shard, t.From, t.To, t.Reason)
		}
		fmt.Printf("Version %d: %d shards rebuilt, %d failed\n", res.Version, len(res.Moved), len(res.Failed))
	},
}

func init() {
	putCmd.Flags().BoolP("quiet", "q", false, "Suppress progress bar output")
	repairCmd.Flags().Uint64("since", 0, "rebuild status changes newer than this version")

	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(repairCmd)
}
