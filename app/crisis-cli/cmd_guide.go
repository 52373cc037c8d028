package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/yoockh/crisishelp/internal/narration"
	"github.com/yoockh/crisishelp/internal/providers/tts"
)

var (
	guideStepDelay time.Duration
	guideQuiet     bool
)

func init() {
	rootCmd.AddCommand(guideCmd)
	guideCmd.AddCommand(guideListCmd)
	guideCmd.Flags().DurationVar(&guideStepDelay, "step-delay", narration.DefaultStepDelay, "pause after each spoken step")
	guideCmd.Flags().BoolVar(&guideQuiet, "quiet", false, "print the guide without speaking it")
}

var guideCmd = &cobra.Command{
	Use:       "guide <name>",
	Short:     "Speak a breathing or grounding exercise",
	Args:      cobra.ExactArgs(1),
	ValidArgs: guideNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, ok := narration.LookupGuide(args[0])
		if !ok {
			return fmt.Errorf("unknown guide %q (try: %s)", args[0], strings.Join(guideNames(), ", "))
		}
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, styles.title.Render(g.Title))
		fmt.Fprintln(out, styles.muted.Render(g.Benefit))
		fmt.Fprintln(out)

		log := newLogger()
		speech := tts.NewExecSpeech(log)
		if guideQuiet || !speech.Available() {
			if !guideQuiet {
				fmt.Fprintln(out, styles.muted.Render("(no speech engine found; showing the steps)"))
			}
			for i, s := range g.Steps {
				fmt.Fprintln(out, styles.step.Render(fmt.Sprintf("%d. %s", i+1, s)))
			}
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		engine := narration.NewEngine(speech, log)
		if err := engine.LoadVoices(ctx); err != nil {
			log.WithError(err).Debug("using the default voice")
		}
		engine.OnChange(stepPrinter(out, g.Steps))

		player := narration.NewPlayer(engine, narration.PlayerOptions{
			AutoStartDelay: 0,
			StepDelay:      guideStepDelay,
			AllowOnline:    true,
			Logger:         log,
		})
		if _, err := player.Open(ctx, g.Name); err != nil {
			return err
		}
		if err := player.Wait(ctx); err != nil {
			player.Close()
			fmt.Fprintln(out, styles.muted.Render("stopped"))
			return nil
		}
		fmt.Fprintln(out, styles.ok.Render("Well done."))
		return nil
	},
}

var guideListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available guides",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, g := range narration.Guides() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", styles.name.Render(g.Name), styles.muted.Render(g.Title))
		}
		return nil
	},
}

// stepPrinter prints each step once, as the engine starts speaking it.
func stepPrinter(w io.Writer, steps []string) func(narration.State) {
	var mu sync.Mutex
	last := -1
	return func(st narration.State) {
		mu.Lock()
		defer mu.Unlock()
		if st.StepIndex < 0 || st.StepIndex == last || st.StepIndex >= len(steps) {
			return
		}
		last = st.StepIndex
		fmt.Fprintln(w, styles.current.Render(fmt.Sprintf("%d. %s", last+1, steps[last])))
	}
}

func guideNames() []string {
	var names []string
	for _, g := range narration.Guides() {
		names = append(names, g.Name)
	}
	sort.Strings(names)
	return names
}
