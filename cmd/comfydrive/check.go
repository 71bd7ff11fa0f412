package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func checkCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the ComfyUI server is reachable and show its queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.client.CheckHealth(ctx); err != nil {
				failure("server %s is not reachable: %v", a.client.BaseURL(), err)
				return err
			}
			success("server %s is up", a.client.BaseURL())

			stats, err := a.client.GetSystemStats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("OS:       %s\n", stats.System.OS)
			fmt.Printf("Python:   %s\n", stats.System.PythonVersion)
			if stats.System.ComfyUIVersion != "" {
				fmt.Printf("ComfyUI:  %s\n", stats.System.ComfyUIVersion)
			}
			for _, gpu := range stats.Devices {
				fmt.Printf("Device:   %s (%d MiB free of %d MiB, torch %d MiB free)\n",
					gpu.Name, gpu.VRAM_Free>>20, gpu.VRAM_Total>>20, gpu.Torch_VRAM_Free>>20)
			}

			status, err := a.client.GetQueueStatus(ctx)
			if err != nil {
				warning("queue status unavailable: %v", err)
				return nil
			}
			fmt.Printf("Queue:    %d running, %d pending\n", status.Running, status.Pending)
			return nil
		},
	}
}
