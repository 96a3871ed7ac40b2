package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the entities, enums and fingerprint of the demo registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "fingerprint\t%s\n", reg.FingerprintHex())
			for _, e := range reg.Entities() {
				fmt.Fprintf(w, "\nentity %d\t%s\t%08x\n", e.Index(), e.Name(), e.Hash())
				for _, f := range e.Fields() {
					mode := ""
					if !f.Writable() {
						mode = "readonly"
					}
					fmt.Fprintf(w, "  %d\t%s\t%s\t%s\n", f.Ordinal(), f.Name(), f.Type(), mode)
				}
			}
			for _, en := range reg.Enums() {
				kind := "ordinal"
				if en.Coded() {
					kind = "coded"
				}
				fmt.Fprintf(w, "\nenum %d\t%s\t%s\n", en.Index(), en.Name(), kind)
				for i := 0; i < en.Len(); i++ {
					text := ""
					if en.HasText() {
						text = en.TextAt(i)
					}
					fmt.Fprintf(w, "  %d\t%s\t%s\n", en.ValueAt(i), en.NameAt(i), text)
				}
			}
			return w.Flush()
		},
	}
}
