package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/virtualcafe/cafe/internal/tutor"
	"github.com/virtualcafe/cafe/internal/ui"
)

var flagHistoryWidth int

var tutorCmd = &cobra.Command{
	Use:   "tutor",
	Short: "Talk to the AI study tutor",
}

var tutorAskCmd = &cobra.Command{
	Use:   "ask <question...>",
	Short: "Ask the tutor a question",
	Example: `  cafe tutor ask explain the krebs cycle
  cafe tutor ask "what is a derivative?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTutor(cmd.Context(), func(ctx context.Context, t *tutor.Tutor) error {
			if welcome, shown, err := t.Welcome(ctx); err == nil && shown {
				printReply(welcome)
			}
			return ask(func() (string, error) {
				return t.Ask(ctx, strings.Join(args, " "))
			})
		})
	},
}

var tutorRegenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Ask the last question again and replace its answer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTutor(cmd.Context(), func(ctx context.Context, t *tutor.Tutor) error {
			return ask(func() (string, error) {
				return t.Regenerate(ctx)
			})
		})
	},
}

var tutorHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show your saved conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTutor(cmd.Context(), func(ctx context.Context, t *tutor.Tutor) error {
			fmt.Println(ui.HistoryView(t.History(), flagHistoryWidth))
			return nil
		})
	},
}

var tutorClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete your saved conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTutor(cmd.Context(), func(ctx context.Context, t *tutor.Tutor) error {
			if err := t.Clear(ctx); err != nil {
				return err
			}
			ui.PrintSuccess("Conversation cleared")
			return nil
		})
	},
}

func withTutor(ctx context.Context, fn func(context.Context, *tutor.Tutor) error) error {
	cfg, err := LoadConfig(nil)
	if err != nil {
		return err
	}
	backend, err := NewBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	t, err := backend.Tutor(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, t)
}

func ask(fn func() (string, error)) error {
	sp := ui.NewSpinner("AI Tutor is thinking...")
	sp.Start()
	reply, err := fn()
	sp.Stop()

	if reply != "" {
		printReply(reply)
	}
	return err
}

func printReply(reply string) {
	fmt.Printf("%s %s\n%s\n\n", ui.IconTutor, ui.TutorNameStyle.Render("AI Tutor"), tutor.Format(reply))
}

func init() {
	rootCmd.AddCommand(tutorCmd)
	tutorCmd.AddCommand(tutorAskCmd, tutorRegenerateCmd, tutorHistoryCmd, tutorClearCmd)

	tutorHistoryCmd.Flags().IntVarP(&flagHistoryWidth, "width", "w", 60, "Wrap answers at this many columns")
}
