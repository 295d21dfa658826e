package cmd

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smazurov/screenscribe/internal/profiles"
)

// NewProfilesCmd creates the profiles command.
func NewProfilesCmd(settings SettingsFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List analysis profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listProfiles(cmd.OutOrStdout(), settings().ProfilesFile)
		},
	}
}

func listProfiles(out io.Writer, path string) error {
	loaded, err := profiles.Load(path)
	if err != nil {
		return err
	}
	if len(loaded) == 0 {
		_, err := fmt.Fprintf(out, "No profiles in %s\n", path)
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMODE\tWINDOW\tRECORDING\tDESCRIPTION")
	for _, name := range slices.Sorted(maps.Keys(loaded)) {
		p := loaded[name]
		mode, window := p.Mode, "-"
		if mode == "" {
			mode = "-"
		}
		if d := p.WindowDuration(); d > 0 {
			window = d.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", p.Name, mode, window, p.Recording, p.Description)
	}
	return tw.Flush()
}
