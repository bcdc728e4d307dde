package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/smarttodo/tasksync/internal/schema"
	"github.com/smarttodo/tasksync/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add <title>",
	GroupID: "tasks",
	Short:   "Add a task",
	Long: `Add a task. The title is every argument joined by spaces.

Examples:
  todo add Buy milk
  todo add "Pay rent" --due "next friday" --priority high --important
  todo add Fix door --category Home`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpen(ctx)
		defer a.Close()

		task := schema.Task{Title: strings.Join(args, " ")}
		task.Description, _ = cmd.Flags().GetString("desc")
		task.Important, _ = cmd.Flags().GetBool("important")
		if p, _ := cmd.Flags().GetString("priority"); p != "" {
			task.Priority = schema.Priority(p)
		}
		if due, _ := cmd.Flags().GetString("due"); due != "" {
			d, err := parseDue(due, time.Now())
			if err != nil {
				fatalf("%v", err)
			}
			task.DueDate = &d
		}
		if ref, _ := cmd.Flags().GetString("category"); ref != "" {
			task.Category = a.resolveCategory(ref).ID
		}

		created, err := a.eng.AddTask(ctx, task)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Added %s\n", ui.RenderPass("✓"), ui.TaskLine(created, time.Now()))
		a.syncNow(ctx)
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	GroupID: "tasks",
	Short:   "List tasks",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpen(ctx)
		defer a.Close()

		var f schema.Filter
		status, _ := cmd.Flags().GetString("status")
		priority, _ := cmd.Flags().GetString("priority")
		due, _ := cmd.Flags().GetString("due")
		sortBy, _ := cmd.Flags().GetString("sort")
		f.Status = schema.Status(status)
		f.Priority = schema.Priority(priority)
		f.Due = schema.DueWindow(due)
		f.SortBy = schema.SortBy(sortBy)
		f.Important, _ = cmd.Flags().GetBool("important")
		if ref, _ := cmd.Flags().GetString("category"); ref != "" {
			f.Category = a.resolveCategory(ref).ID
		}

		tasks := a.eng.Tasks(f)
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(tasks); err != nil {
				fatalf("%v", err)
			}
			return
		}

		if len(tasks) == 0 {
			fmt.Println(ui.RenderMuted("No tasks."))
			return
		}
		now := time.Now()
		for _, t := range tasks {
			fmt.Println(ui.TaskLine(t, now))
		}
		st := a.eng.Stats()
		fmt.Printf("\n%s\n", ui.RenderMuted(fmt.Sprintf("%d tasks, %d done (%d%%), %d overdue", st.Total, st.Completed, st.CompletionRate, st.Overdue)))
	},
}

var doneCmd = &cobra.Command{
	Use:     "done <id>",
	GroupID: "tasks",
	Short:   "Toggle a task between completed and pending",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpen(ctx)
		defer a.Close()

		t, err := a.eng.ToggleTask(ctx, a.resolveTask(args[0]).ID)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Println(ui.TaskLine(t, time.Now()))
		a.syncNow(ctx)
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "tasks",
	Short:   "Change fields of a task",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpen(ctx)
		defer a.Close()

		target := a.resolveTask(args[0])
		flags := cmd.Flags()
		var p schema.TaskPatch
		if flags.Changed("title") {
			v, _ := flags.GetString("title")
			p.Title = &v
		}
		if flags.Changed("desc") {
			v, _ := flags.GetString("desc")
			p.Description = &v
		}
		if flags.Changed("status") {
			v, _ := flags.GetString("status")
			s := schema.Status(v)
			p.Status = &s
		}
		if flags.Changed("priority") {
			v, _ := flags.GetString("priority")
			pr := schema.Priority(v)
			p.Priority = &pr
		}
		if flags.Changed("due") {
			v, _ := flags.GetString("due")
			d, err := parseDue(v, time.Now())
			if err != nil {
				fatalf("%v", err)
			}
			p.DueDate = &d
		}
		p.ClearDueDate, _ = flags.GetBool("no-due")
		if flags.Changed("category") {
			v, _ := flags.GetString("category")
			id := a.resolveCategory(v).ID
			p.Category = &id
		}
		p.ClearCategory, _ = flags.GetBool("no-category")
		if flags.Changed("important") {
			v, _ := flags.GetBool("important")
			p.Important = &v
		}

		t, err := a.eng.UpdateTask(ctx, target.ID, p)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Updated %s\n", ui.RenderPass("✓"), ui.TaskLine(t, time.Now()))
		a.syncNow(ctx)
	},
}

var completeCmd = &cobra.Command{
	Use:     "complete [id...]",
	GroupID: "tasks",
	Short:   "Mark tasks completed",
	Long: `Mark the listed tasks completed, or every open task with --all.

Tasks that are already completed are left alone.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) > 0) {
			fatalf("give either task ids or --all")
		}

		a := mustOpen(ctx)
		defer a.Close()

		var n int
		var err error
		if all {
			n, err = a.eng.CompleteAll(ctx)
		} else {
			n, err = a.eng.CompleteTasks(ctx, a.resolveTasks(args))
		}
		if n > 0 {
			fmt.Printf("%s Completed %d task(s)\n", ui.RenderPass("✓"), n)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("⚠"), err)
		}
		a.syncNow(ctx)
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm [id...]",
	GroupID: "tasks",
	Short:   "Delete tasks",
	Long: `Delete the listed tasks, or every completed task with --completed.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		completed, _ := cmd.Flags().GetBool("completed")
		if completed == (len(args) > 0) {
			fatalf("give either task ids or --completed")
		}

		a := mustOpen(ctx)
		defer a.Close()

		if len(args) == 1 {
			t := a.resolveTask(args[0])
			if err := a.eng.DeleteTask(ctx, t.ID); err != nil {
				fatalf("%v", err)
			}
			fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), t.Title)
			a.syncNow(ctx)
			return
		}

		var n int
		var err error
		if completed {
			n, err = a.eng.DeleteCompleted(ctx)
		} else {
			n, err = a.eng.DeleteTasks(ctx, a.resolveTasks(args))
		}
		fmt.Printf("%s Deleted %d task(s)\n", ui.RenderPass("✓"), n)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("⚠"), err)
		}
		a.syncNow(ctx)
	},
}

func init() {
	completeCmd.Flags().Bool("all", false, "Complete every open task")
	rmCmd.Flags().Bool("completed", false, "Delete every completed task")

	addCmd.Flags().String("desc", "", "Description")
	addCmd.Flags().StringP("priority", "p", "", "low, medium or high (default medium)")
	addCmd.Flags().StringP("due", "d", "", "Due date: YYYY-MM-DD or e.g. \"tomorrow\"")
	addCmd.Flags().StringP("category", "c", "", "Category name or id")
	addCmd.Flags().BoolP("important", "i", false, "Mark as important")

	listCmd.Flags().String("status", "", "Filter by status: pending, in-progress, completed")
	listCmd.Flags().String("priority", "", "Filter by priority")
	listCmd.Flags().StringP("category", "c", "", "Filter by category name or id")
	listCmd.Flags().BoolP("important", "i", false, "Only important tasks")
	listCmd.Flags().String("due", "", "Filter by due window: today, overdue, upcoming")
	listCmd.Flags().String("sort", "", "Sort by dueDate, priority or createdAt")
	listCmd.Flags().Bool("json", false, "Print JSON")

	editCmd.Flags().String("title", "", "New title")
	editCmd.Flags().String("desc", "", "New description")
	editCmd.Flags().String("status", "", "New status")
	editCmd.Flags().StringP("priority", "p", "", "New priority")
	editCmd.Flags().StringP("due", "d", "", "New due date")
	editCmd.Flags().Bool("no-due", false, "Remove the due date")
	editCmd.Flags().StringP("category", "c", "", "New category name or id")
	editCmd.Flags().Bool("no-category", false, "Remove the category")
	editCmd.Flags().BoolP("important", "i", false, "Set or clear (--important=false) the important flag")

	rootCmd.AddCommand(addCmd, listCmd, doneCmd, completeCmd, editCmd, rmCmd)
}
