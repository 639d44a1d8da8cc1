package main

import (
	"github.com/spf13/cobra"

	"github.com/weisyn/meshguard/pkg/types"
)

var featureReason string

var featuresCmd = &cobra.Command{
	Use:     "features",
	Aliases: []string{"feature"},
	Short:   "查看或开关功能",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		list, err := newClient().Features(ctx)
		if err != nil {
			return err
		}
		return newPrinter(cmd).Features(list)
	},
}

func featureToggleCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:       use + " <feature>",
		Short:     short,
		Args:      cobra.ExactArgs(1),
		ValidArgs: featureNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			ft, err := newClient().SetFeature(ctx, args[0], enabled, featureReason)
			if err != nil {
				return err
			}
			return newPrinter(cmd).Features([]types.FeatureToggle{ft})
		},
	}
}

func featureNames() []string {
	names := make([]string, 0, len(types.AllFeatures()))
	for _, f := range types.AllFeatures() {
		names = append(names, string(f))
	}
	return names
}

func init() {
	enable := featureToggleCmd("enable", "启用功能", true)
	disable := featureToggleCmd("disable", "禁用功能", false)
	for _, c := range []*cobra.Command{enable, disable} {
		c.Flags().StringVar(&featureReason, "reason", "", "操作原因")
		featuresCmd.AddCommand(c)
	}
}
