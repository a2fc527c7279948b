package main

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newProfilesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List and inspect stage profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cat, err := ctx.catalog()
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(cat.Names()))
			for _, name := range cat.Names() {
				p, err := cat.Get(name, nil)
				if err != nil {
					return err
				}
				marker := ""
				if name == cfg.Pipeline.Profile {
					marker = "*"
				}
				rows = append(rows, []string{marker, p.Name, strconv.Itoa(len(p.Stages)), p.Description})
			}
			columns := []column{col(""), col("Profile"), numCol("Stages"), col("Description")}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(columns, rows, "No profiles defined."))
			return nil
		},
	}
	cmd.AddCommand(newProfilesShowCommand(ctx))
	return cmd
}

func newProfilesShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show [name]",
		Short: "Show a profile's stages and resolved parameters",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			p, err := ctx.profile(name)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Profile "+p.Name, colorize) {
				fmt.Fprintln(out, line)
			}
			if p.Description != "" {
				fmt.Fprintln(out, p.Description)
			}
			for _, k := range slices.Sorted(maps.Keys(p.Params)) {
				fmt.Fprintln(out, renderStatusLine(k, statusInfo, p.Params[k], colorize))
			}
			fmt.Fprintln(out)

			columns := []column{numCol("#"), col("Stage"), col("Template"), col("Output"), numCol("Poll"), numCol("Max ticks"), numCol("Grace"), col("Flags")}
			rows := make([][]string, 0, len(p.Stages))
			for i, spec := range p.Stages {
				b := spec.Bounds(cfg.Scheduler)
				var flags []string
				if spec.Advance {
					flags = append(flags, "advance")
				}
				if spec.Publish {
					flags = append(flags, "publish")
				}
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					spec.Name,
					templateLabel(spec.Template),
					outputLabel(spec.Output.Dir, spec.Output.Name, spec.Output.Suffix, spec.Output.Ext),
					b.Interval.String(),
					strconv.Itoa(b.MaxTicks),
					strconv.Itoa(b.GraceThreshold),
					dashIfEmpty(strings.Join(flags, ",")),
				})
			}
			fmt.Fprintln(out, renderTable(columns, rows, "Profile has no stages."))
			return nil
		},
	}
}

func templateLabel(ref string) string {
	if strings.Contains(ref, "{{") || strings.Contains(ref, "\n") {
		return "(inline)"
	}
	return ref
}

func outputLabel(dir, name, suffix, ext string) string {
	file := name
	if file == "" {
		file = "<stem>" + suffix + ext
		if ext == "" {
			file += "<ext>"
		}
	}
	if dir != "" {
		return dir + "/" + file
	}
	return file
}
