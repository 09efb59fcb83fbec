package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/z46-dev/go-logger"

	"github.com/distroforge/forge/builder"
	"github.com/distroforge/forge/config"
	"github.com/distroforge/forge/iso"
)

var log *logger.Logger = logger.NewLogger().SetPrefix("[FORGE]", logger.BoldPurple)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		log.Errorf("%v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "forge",
		Short:         "Remaster a bootable Linux installation ISO with your own distribution identity",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		newBuildCommand(),
		newInspectCommand(),
		newInitCommand(),
	)
	return root
}

func newBuildCommand() *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run the full remastering pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Init(manifestPath); err != nil {
				return err
			}

			tools := iso.ProbeTools(time.Duration(config.Config.Build.ToolTimeoutSec) * time.Second)

			result, err := builder.New(&config.Config, tools).Run(cmd.Context())
			if err != nil {
				return err
			}

			log.Basicf("image:    %s\n", result.ImagePath)
			if result.ChecksumPath != "" {
				log.Basicf("checksum: %s\n", result.ChecksumPath)
			}
			log.Basicf("volume id: %s (extracted via %s)\n", result.VolumeID, result.ExtractionStrategy)
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "c", "forge.toml", "Path to the build manifest")
	return cmd
}

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <iso>",
		Short: "Print the volume id and boot payloads of an existing image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tools := iso.ProbeTools(time.Minute)

			volumeID := iso.ProbeVolumeID(cmd.Context(), tools, args[0])
			if volumeID == "" {
				volumeID = "(not detected)"
			}
			fmt.Printf("volume id: %s\n", volumeID)

			entries, err := iso.ProbeBootEntries(args[0])
			if err != nil {
				return fmt.Errorf("probe boot payloads: %w", err)
			}
			fmt.Printf("bios boot: %t\nefi boot:  %t\n", entries.BIOS, entries.EFI)
			return nil
		},
	}
}

func newInitCommand() *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default build manifest template",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Generate(manifestPath); err != nil {
				return err
			}
			log.Basicf("manifest template written to %s\n", manifestPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "c", "forge.toml", "Path to write the manifest template")
	return cmd
}
