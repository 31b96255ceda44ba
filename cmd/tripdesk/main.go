package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root, a := newRootCmd()
	err := root.Execute()
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		if errors.Is(err, errLoginRequired) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath    string
	origin        string
	storage       string
	refreshCookie string
	logMode       string
}

func (f rootFlags) overrides() map[string]any {
	out := map[string]any{}
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set("api.origin", f.origin)
	set("storage.backend", f.storage)
	set("auth.refresh_cookie", f.refreshCookie)
	set("log.mode", f.logMode)
	return out
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	var flags rootFlags

	root := &cobra.Command{
		Use:   "tripdesk",
		Short: "Command line client for the trip admin console",
		Long: `tripdesk talks to the trip admin backend the way the browser console does:
bearer tokens are refreshed through the refresh cookie, a rejected request is
retried once, and a session that cannot be renewed ends with a login redirect.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Context(), flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&flags.origin, "origin", "", "console origin, e.g. https://admin.example")
	pf.StringVar(&flags.storage, "storage", "", "token storage backend: memory, redis or postgres")
	pf.StringVar(&flags.refreshCookie, "refresh-cookie", "", "refresh cookie as name=value")
	pf.StringVar(&flags.logMode, "log", "", "log mode: release, development or nop")

	root.AddCommand(
		tripsCmd(a),
		reviewsCmd(a),
		lookupCmd(a),
		logoutCmd(a),
		watchCmd(a),
		mockServerCmd(a),
	)
	return root, a
}
