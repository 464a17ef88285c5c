package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/virtualcafe/cafe/internal/ui"
	"github.com/virtualcafe/cafe/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cafe",
	Short: "Terminal client for virtual study rooms: chat, video calls and a Pomodoro timer",
	Long: `cafe joins a study room from the terminal. Chat with the room, start a
peer-to-peer video call over WebRTC, keep focus with a shared Pomodoro timer and
ask the AI tutor for help. Completed study sessions are saved to your profile.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&global.configFile, "config", "c", "", "Config file (default cafe.toml in the working or user config dir)")
	pf.StringVar(&global.baseURL, "base-url", "", "Study-room site root, e.g. https://cafe.example.com")
	pf.StringVarP(&global.username, "username", "u", "", "Your username on the site")
	pf.StringVar(&global.sessionID, "session-id", "", "Value of the site's sessionid cookie")
	pf.StringVar(&global.csrfToken, "csrf-token", "", "Value of the site's csrftoken cookie")
	pf.StringVar(&global.dataDir, "data-dir", "", "Directory for local data")
	pf.StringVar(&global.storeURL, "store-url", "", "redis:// URL to keep local data in redis instead")
}
