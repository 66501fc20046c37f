package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/andresmejia3/facefilter/internal/filter"
	"github.com/spf13/cobra"
)

var (
	filtersOpts  Options
	filtersCheck bool
)

var filtersCmd = &cobra.Command{
	Use:   "filters",
	Short: "List the available face filters",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		c, err := loadCatalog(filtersOpts)
		if err != nil {
			return err
		}
		var sprites *filter.SpriteCache
		if filtersCheck {
			sprites = loadSprites(cmd.Context(), c, filtersOpts)
		}
		printFilters(os.Stdout, c, sprites)
		return nil
	},
}

func init() {
	filtersCmd.Flags().StringVar(&filtersOpts.CatalogPath, "catalog", "", "YAML catalog replacing the built-in filters")
	filtersCmd.Flags().StringVar(&filtersOpts.SpritesDir, "sprites", "assets/filters", "Directory holding the built-in sprite images (PNG, JPEG, GIF or WebP)")
	filtersCmd.Flags().BoolVar(&filtersCheck, "check", false, "Load every sprite and report its status")
	rootCmd.AddCommand(filtersCmd)
}

// printFilters writes the catalog table. A nil cache omits the status column.
func printFilters(out io.Writer, c *filter.Catalog, sprites *filter.SpriteCache) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	header, rule := "ID\tNAME\tANCHOR\tSCALE\tWIDTH\tIMAGE", "--\t----\t------\t-----\t-----\t-----"
	if sprites != nil {
		header, rule = header+"\tSTATUS", rule+"\t------"
	}
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, rule)

	for _, def := range c.All() {
		name := def.Name
		if def.Icon != "" {
			name = def.Icon + " " + name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s", def.ID, name, def.Anchor,
			strconv.FormatFloat(def.Scale, 'f', -1, 64), def.WidthBasis, def.Image)
		if sprites != nil {
			fmt.Fprintf(w, "\t%s", spriteStatus(sprites, def.ID))
		}
		fmt.Fprintln(w)
	}
	w.Flush()
}

func spriteStatus(sprites *filter.SpriteCache, id string) string {
	s, ok := sprites.Get(id)
	switch {
	case !ok:
		return "pending"
	case s.Err != nil:
		return "error"
	case !s.Ready():
		return "empty"
	default:
		b := s.Image.Bounds()
		return fmt.Sprintf("ok %dx%d", b.Dx(), b.Dy())
	}
}
