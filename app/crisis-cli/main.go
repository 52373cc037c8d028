// Command crisis-cli is the terminal companion to the crisis service: it
// lists hotlines, plays the offline guides through the host's speech
// engine, raises an SOS from this machine and shows the server's session.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yoockh/crisishelp/internal/logger"
)

var (
	verbose   bool
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:           "crisis-cli",
	Short:         "Crisis support from the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("CRISIS_SERVER_URL", "http://localhost:8080"), "crisis service base URL")
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.alert.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

// newLogger keeps the terminal for the user; logs go to stderr and stay at
// warn unless -v is set.
func newLogger() *logrus.Logger {
	l := logger.NewWithOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
