package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/luciancaetano/canvasnet/internal/protocol"
)

var errNoMatch = errors.New("no message type could decode the payload")

func newClassifyCmd() *cobra.Command {
	var (
		descriptors string
		all         bool
	)

	cmd := &cobra.Command{
		Use:   "classify <hex>",
		Short: "Identify the protobuf message type of a hex encoded payload",
		Long: `Trial decode a payload against every message in a descriptor set and print
the first one that fits. Payloads shaped alike can match several messages;
--all prints every match in declaration order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			corpus, err := protocol.LoadCorpusFile(descriptors)
			if err != nil {
				return err
			}

			data, err := hex.DecodeString(strings.Join(strings.Fields(args[0]), ""))
			if err != nil {
				return fmt.Errorf("payload is not hex: %w", err)
			}

			out := cmd.OutOrStdout()
			if all {
				matches := corpus.Matches(data)
				if len(matches) == 0 {
					return errNoMatch
				}
				for _, name := range matches {
					fmt.Fprintln(out, name)
				}
				return nil
			}

			name, ok := corpus.Classify(data)
			if !ok {
				return errNoMatch
			}
			fmt.Fprintln(out, name)
			return nil
		},
	}
	cmd.Flags().StringVar(&descriptors, "descriptors", "", "Serialized FileDescriptorSet (protoc --descriptor_set_out)")
	cmd.Flags().BoolVar(&all, "all", false, "Print every matching message type")
	_ = cmd.MarkFlagRequired("descriptors")
	return cmd
}
