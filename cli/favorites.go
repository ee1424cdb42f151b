package cli

import (
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewFavoritesCmd creates the "favorites" subcommand group.
func NewFavoritesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "favorites",
		Short: "List and toggle favorites",
	}
	cmd.AddCommand(newFavoritesListCmd())
	cmd.AddCommand(newFavoritesToggleCmd())
	return cmd
}

func newFavoritesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the signed-in user's favorites",
		Args:  cobra.NoArgs,
		RunE:  runFavoritesList,
	}
}

func runFavoritesList(cmd *cobra.Command, _ []string) error {
	client, _, err := buildClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.CheckAuth(cmd.Context()); err != nil {
		return classifyExit(err)
	}
	if !client.IsAuthenticated() {
		return exitError(exitAuth, "not signed in; run `trellis login` first")
	}

	registry := client.Favorites()
	if err := registry.EnsureLoaded(cmd.Context()); err != nil {
		return classifyExit(err)
	}

	records := registry.Records()
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No favorites yet")
		return nil
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].FavoriteType != records[j].FavoriteType {
			return records[i].FavoriteType < records[j].FavoriteType
		}
		return records[i].ItemID < records[j].ItemID
	})

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tITEM")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%d\n", r.FavoriteType, r.ItemID)
	}
	return w.Flush()
}

func newFavoritesToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <type> <item-id>",
		Short: "Flip the favorited state of an item",
		Args:  cobra.ExactArgs(2),
		RunE:  runFavoritesToggle,
	}
}

func runFavoritesToggle(cmd *cobra.Command, args []string) error {
	ftype, err := parseFavoriteType(args[0])
	if err != nil {
		return err
	}
	itemID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return exitError(exitUsage, "item id must be a number, got %q", args[1])
	}

	client, _, err := buildClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.CheckAuth(cmd.Context()); err != nil {
		return classifyExit(err)
	}

	if err := client.ToggleFavorite(cmd.Context(), ftype, itemID); err != nil {
		return classifyExit(err)
	}

	if client.IsFavorited(ftype, itemID) {
		fmt.Fprintf(cmd.OutOrStdout(), "Favorited %s %d\n", ftype, itemID)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Unfavorited %s %d\n", ftype, itemID)
	}
	return nil
}

// NewBrowseCmd creates the "browse" subcommand.
func NewBrowseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse <type>",
		Short: "List a catalog collection with favorite counts",
		Args:  cobra.ExactArgs(1),
		RunE:  runBrowse,
	}
}

func runBrowse(cmd *cobra.Command, args []string) error {
	ftype, err := parseFavoriteType(args[0])
	if err != nil {
		return err
	}

	client, _, err := buildClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	// Browsing is public, but a resolved session marks the user's own
	// favorites in the listing.
	_ = client.CheckAuth(cmd.Context())
	if client.IsAuthenticated() {
		_ = client.Favorites().EnsureLoaded(cmd.Context())
	}

	collections := client.Catalog()
	if err := collections.Load(cmd.Context(), ftype); err != nil {
		return classifyExit(err)
	}

	items := collections.Items(ftype)
	if len(items) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No %ss found\n", ftype)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tFAVORITES\t")
	for _, item := range items {
		marker := ""
		if client.IsFavorited(ftype, item.ID) {
			marker = "*"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", item.ID, item.Title, item.FavoriteCount, marker)
	}
	return w.Flush()
}
