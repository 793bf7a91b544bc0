package cmd

import (
	"context"
	"fmt"

	"github.com/BioHazard786/Warpcall/internal/capture"
	"github.com/BioHazard786/Warpcall/internal/room"
	"github.com/BioHazard786/Warpcall/internal/ui"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"d"},
	Short:   "List microphones and cameras",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDevices(cmd.Context())
	},
}

func listDevices(ctx context.Context) error {
	stopSpinner := ui.RunSpinner("Looking for capture devices...")
	defer stopSpinner()

	devices, err := capture.New()
	if err != nil {
		return room.NewError("set up capture", err)
	}
	audio, err := devices.AudioInputs(ctx)
	if err != nil {
		return room.NewError("list microphones", err)
	}
	video, err := devices.VideoInputs(ctx)
	if err != nil {
		return room.NewError("list cameras", err)
	}
	stopSpinner()

	fmt.Println()
	ui.RenderDevices(append(audio, video...))
	return nil
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
