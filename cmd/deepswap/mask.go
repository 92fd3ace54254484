package main

import (
	"github.com/spf13/cobra"
)

var maskOpts struct {
	Video  string
	Output string
}

var maskCmd = &cobra.Command{
	Use:   "mask",
	Short: "Extract frames and store aligned faces, occlusion masks and matrices",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		res, err := engine.Mask(cmd.Context(), maskOpts.Video, maskOpts.Output)
		if err != nil {
			return err
		}
		report(res)
		return nil
	},
}

func init() {
	maskCmd.Flags().StringVarP(&maskOpts.Video, "video", "i", "", "Path to the target video")
	maskCmd.Flags().StringVarP(&maskOpts.Output, "output", "o", "", "Work directory for frames and face records")
	maskCmd.MarkFlagRequired("video")
	maskCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(maskCmd)
}
