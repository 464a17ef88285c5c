package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/virtualcafe/cafe/internal/call"
	"github.com/virtualcafe/cafe/internal/room"
	"github.com/virtualcafe/cafe/internal/timer"
	"github.com/virtualcafe/cafe/internal/ui"
)

var (
	flagTimerMinutes int
	flagTimerRoom    string
	flagTimerNoSave  bool
)

var timerCmd = &cobra.Command{
	Use:   "timer",
	Short: "Run a solo Pomodoro countdown",
	Long: `Run a Pomodoro countdown in the terminal. When it completes the study
session is saved to your profile, credited to --room when given.`,
	Example: `  cafe timer
  cafe timer --minutes 50 --room abc123`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagTimerRoom != "" && !room.ValidRoomCode(flagTimerRoom) {
			return fmt.Errorf("%w: %q", room.ErrInvalidRoom, flagTimerRoom)
		}

		model, err := ui.NewTimerModel(flagTimerMinutes, flagTimerRoom)
		if err != nil {
			return err
		}

		if _, err := tea.NewProgram(model, tea.WithContext(cmd.Context())).Run(); err != nil {
			return call.NewError("timer view", err)
		}

		result := model.Result()
		if !result.Completed {
			ui.PrintWarning("Timer stopped before completion, nothing saved")
			return nil
		}
		if flagTimerNoSave {
			fmt.Println(ui.SessionSummaryView(flagTimerRoom, result.Minutes, false))
			return nil
		}
		return saveStudySession(cmd, result.Minutes)
	},
}

func saveStudySession(cmd *cobra.Command, minutes int) error {
	cfg, err := LoadConfig(nil)
	if err != nil {
		return err
	}
	if err := requireLogin(cfg); err != nil {
		return err
	}
	backend, err := NewBackend(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	stop := ui.RunConnectionSpinner("Saving study session...")
	err = backend.Client.SaveSession(cmd.Context(), minutes, flagTimerRoom)
	stop()

	fmt.Println(ui.SessionSummaryView(flagTimerRoom, minutes, err == nil))
	if err != nil {
		return call.NewError("save study session", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(timerCmd)

	timerCmd.Flags().IntVarP(&flagTimerMinutes, "minutes", "m", timer.DefaultMinutes,
		fmt.Sprintf("Session length in minutes (%d-%d)", timer.MinMinutes, timer.MaxMinutes))
	timerCmd.Flags().StringVar(&flagTimerRoom, "room", "", "Room code to credit the session to")
	timerCmd.Flags().BoolVar(&flagTimerNoSave, "no-save", false, "Do not save the completed session")
}
