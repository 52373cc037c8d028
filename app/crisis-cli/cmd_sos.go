package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yoockh/crisishelp/internal/cache"
	"github.com/yoockh/crisishelp/internal/location"
	"github.com/yoockh/crisishelp/internal/models"
	"github.com/yoockh/crisishelp/internal/prefs"
	"github.com/yoockh/crisishelp/internal/providers/device"
	"github.com/yoockh/crisishelp/internal/session"
	"github.com/yoockh/crisishelp/internal/tools"
)

var (
	sosContactName  string
	sosContactPhone string
	sosLocation     string
	sosRemote       bool
)

func init() {
	rootCmd.AddCommand(sosCmd)
	sosCmd.Flags().StringVar(&sosContactName, "contact-name", "", "emergency contact name")
	sosCmd.Flags().StringVar(&sosContactPhone, "contact-phone", "", "emergency contact phone; gets a text with your location")
	sosCmd.Flags().StringVar(&sosLocation, "location", envOr("FIXED_LOCATION", ""), "lat,lng to share when the host cannot locate itself")
	sosCmd.Flags().BoolVar(&sosRemote, "remote", false, "ask the crisis service to raise the SOS instead of this machine")
}

var sosCmd = &cobra.Command{
	Use:   "sos",
	Short: "Call 911 and text your location to your emergency contact",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		var (
			res models.AlertResult
			err error
		)
		if sosRemote {
			res, err = remoteSOS(ctx, serverURL)
		} else {
			res, err = localSOS(ctx, newLogger())
		}
		if err != nil {
			return err
		}
		printAlert(cmd.OutOrStdout(), res)
		return nil
	},
}

func localSOS(ctx context.Context, log *logrus.Logger) (models.AlertResult, error) {
	store, err := session.New(ctx, session.Options{Prefs: prefs.New(cache.NewMemoryCache()), Logger: log})
	if err != nil {
		return models.AlertResult{}, err
	}
	if sosContactPhone != "" {
		if _, err := store.SetEmergencyContact(ctx, &models.EmergencyContact{Name: sosContactName, Phone: sosContactPhone}); err != nil {
			return models.AlertResult{}, err
		}
	}

	var geo location.Geolocator = location.Unavailable{}
	if sosLocation != "" {
		f, err := location.ParseFixed(sosLocation)
		if err != nil {
			return models.AlertResult{}, fmt.Errorf("--location: %w", err)
		}
		geo = f
	} else if u := envOr("GEOLOCATION_URL", ""); u != "" {
		geo = &location.HTTPGeolocator{URL: u, Client: &http.Client{Timeout: 10 * time.Second}}
	}

	d := tools.NewDispatcher(tools.Options{
		Sessions: store,
		Dialer:   tools.URIDialer{Opener: device.NewExecOpener(log)},
		Locator:  location.NewAcquirer(geo, log),
		Logger:   log,
	})
	return d.SOS(ctx), nil
}

func remoteSOS(ctx context.Context, base string) (models.AlertResult, error) {
	var res models.AlertResult
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/sos", nil)
	if err != nil {
		return res, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return res, fmt.Errorf("reach crisis service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return res, fmt.Errorf("crisis service answered %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return res, fmt.Errorf("decode sos result: %w", err)
	}
	return res, nil
}

func printAlert(w io.Writer, res models.AlertResult) {
	mark := func(ok bool, yes, no string) string {
		if ok {
			return styles.ok.Render("✓ " + yes)
		}
		return styles.muted.Render("✗ " + no)
	}

	fmt.Fprintln(w, mark(res.Called, "Calling 911", "Could not start a call to 911"))
	if res.Location != nil {
		fmt.Fprintln(w, styles.ok.Render("✓ Location: "+tools.MapLink(*res.Location)))
	} else {
		fmt.Fprintln(w, styles.muted.Render("✗ Location unavailable"))
	}
	fmt.Fprintln(w, mark(res.SharedWithContact, "Location sent to your emergency contact", "Emergency contact not notified"))

	if !res.Success {
		fmt.Fprintln(w, styles.alert.Render("Nothing went through. Dial 911 directly."))
	}
}
