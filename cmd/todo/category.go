package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smarttodo/tasksync/internal/schema"
	"github.com/smarttodo/tasksync/internal/ui"
)

var categoryCmd = &cobra.Command{
	Use:     "category",
	Aliases: []string{"cat"},
	GroupID: "tasks",
	Short:   "Manage categories",
}

var categoryAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a category",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpen(ctx)
		defer a.Close()

		color, _ := cmd.Flags().GetString("color")
		c, err := a.eng.AddCategory(ctx, schema.Category{Name: strings.Join(args, " "), Color: color})
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Added category %s %s\n", ui.RenderPass("✓"), c.Name, ui.RenderMuted(ui.ShortID(c.ID)))
		a.syncNow(ctx)
	},
}

var categoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List categories with task counts",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpen(ctx)
		defer a.Close()

		cats := a.eng.Categories()
		if len(cats) == 0 {
			fmt.Println(ui.RenderMuted("No categories."))
			return
		}
		for _, c := range cats {
			fmt.Printf("%-20s %3d tasks  %s  %s\n", c.Name, c.TaskCount, c.Color, ui.RenderMuted(ui.ShortID(c.ID)))
		}
	},
}

var categoryEditCmd = &cobra.Command{
	Use:   "edit <id|name>",
	Short: "Rename or recolour a category",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpen(ctx)
		defer a.Close()

		target := a.resolveCategory(args[0])
		var p schema.CategoryPatch
		if cmd.Flags().Changed("name") {
			v, _ := cmd.Flags().GetString("name")
			p.Name = &v
		}
		if cmd.Flags().Changed("color") {
			v, _ := cmd.Flags().GetString("color")
			p.Color = &v
		}
		c, err := a.eng.UpdateCategory(ctx, target.ID, p)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Updated category %s\n", ui.RenderPass("✓"), c.Name)
		a.syncNow(ctx)
	},
}

var categoryRmCmd = &cobra.Command{
	Use:   "rm <id|name>",
	Short: "Delete a category (its tasks are kept)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpen(ctx)
		defer a.Close()

		c := a.resolveCategory(args[0])
		if err := a.eng.DeleteCategory(ctx, c.ID); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Deleted category %s\n", ui.RenderPass("✓"), c.Name)
		a.syncNow(ctx)
	},
}

var profileCmd = &cobra.Command{
	Use:     "profile",
	GroupID: "setup",
	Short:   "Show or change your synced profile",
	Long: `Show or change the profile synced with your account.

Examples:
  todo profile
  todo profile --name "Sam" --set theme=dark
  todo profile --unset theme`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpen(ctx)
		defer a.Close()

		var p schema.ProfilePatch
		if cmd.Flags().Changed("name") {
			v, _ := cmd.Flags().GetString("name")
			p.DisplayName = &v
		}
		sets, _ := cmd.Flags().GetStringToString("set")
		unsets, _ := cmd.Flags().GetStringSlice("unset")
		if len(sets)+len(unsets) > 0 {
			p.Settings = make(map[string]string, len(sets)+len(unsets))
			for k, v := range sets {
				p.Settings[k] = v
			}
			for _, k := range unsets {
				p.Settings[k] = ""
			}
		}

		if p.DisplayName == nil && p.Settings == nil {
			prof := a.eng.Profile()
			if prof == nil {
				fmt.Println(ui.RenderMuted("No profile synced yet."))
				return
			}
			fmt.Printf("User:     %s\n", prof.UserID)
			fmt.Printf("Name:     %s\n", prof.DisplayName)
			for k, v := range prof.Settings {
				fmt.Printf("Setting:  %s=%s\n", k, v)
			}
			return
		}

		if _, err := a.eng.UpdateProfile(ctx, p); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Profile updated\n", ui.RenderPass("✓"))
		a.syncNow(ctx)
	},
}

func init() {
	categoryAddCmd.Flags().String("color", "", "Colour, e.g. #ff8800")
	categoryEditCmd.Flags().String("name", "", "New name")
	categoryEditCmd.Flags().String("color", "", "New colour")
	categoryCmd.AddCommand(categoryAddCmd, categoryListCmd, categoryEditCmd, categoryRmCmd)

	profileCmd.Flags().String("name", "", "Display name")
	profileCmd.Flags().StringToString("set", nil, "Set a setting (key=value, repeatable)")
	profileCmd.Flags().StringSlice("unset", nil, "Remove a setting")

	rootCmd.AddCommand(categoryCmd, profileCmd)
}
