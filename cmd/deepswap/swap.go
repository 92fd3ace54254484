package main

import (
	"github.com/spf13/cobra"
)

var swapOpts struct {
	Source   string
	Target   string
	Output   string
	Original string
	VideoOut string
	Enhancer string
}

var swapCmd = &cobra.Command{
	Use:   "swap",
	Short: "Swap the source identity into a masked video",
	RunE: func(cmd *cobra.Command, args []string) error {
		if swapOpts.Enhancer != "" {
			cfg.EnhancerModel = swapOpts.Enhancer
		}
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		res, err := engine.Swap(cmd.Context(), swapOpts.Source, swapOpts.Target, swapOpts.Output, swapOpts.Original, swapOpts.VideoOut)
		if err != nil {
			return err
		}
		report(res)
		return nil
	},
}

func init() {
	f := swapCmd.Flags()
	f.StringVarP(&swapOpts.Source, "source", "s", "", "Directory written by embed")
	f.StringVarP(&swapOpts.Target, "target", "t", "", "Work directory written by mask")
	f.StringVarP(&swapOpts.Output, "output", "o", "", "Directory for swapped frames")
	f.StringVar(&swapOpts.Original, "video", "", "Original video to take audio from")
	f.StringVar(&swapOpts.VideoOut, "video-out", "", "Encoded output video; frames only when empty")
	f.StringVar(&swapOpts.Enhancer, "enhancer", "", "CodeFormer model; overrides DEEPSWAP_ENHANCER_MODEL")
	swapCmd.MarkFlagRequired("source")
	swapCmd.MarkFlagRequired("target")
	swapCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(swapCmd)
}
