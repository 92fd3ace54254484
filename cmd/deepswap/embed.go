package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var embedOpts struct {
	Source string
	Output string
	Strict bool
}

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Average the identity of a directory of source images",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		emb, err := engine.Embed(embedOpts.Source, embedOpts.Output, embedOpts.Strict)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Stored source embedding (norm %.3f)\n", emb.Norm())
		return nil
	},
}

func init() {
	embedCmd.Flags().StringVarP(&embedOpts.Source, "source", "s", "", "Directory of source face images")
	embedCmd.Flags().StringVarP(&embedOpts.Output, "output", "o", "", "Output directory; the embedding goes to its embedding/ folder")
	embedCmd.Flags().BoolVar(&embedOpts.Strict, "strict", true, "Skip images that do not hold exactly one face")
	embedCmd.MarkFlagRequired("source")
	embedCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(embedCmd)
}
