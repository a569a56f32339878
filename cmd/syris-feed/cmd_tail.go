package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/domody/syris/feed"
	"github.com/domody/syris/protocol"
	"github.com/domody/syris/store"
)

func newTailCmd(flags *globalFlags) *cobra.Command {
	var (
		kinds  []string
		levels []string
		search string
		save   bool
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print feed events as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if save && cfg.PreferencesPath == "" {
				return fmt.Errorf("tail: --save needs preferences_path in the configuration")
			}
			f, _, err := openFeed(cfg, logger)
			if err != nil {
				return err
			}

			filter, err := tailFilter(f, kinds, levels, search, save)
			if err != nil {
				return err
			}
			f.OnIngest(tailPrinter(cmd.OutOrStdout(), filter))

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			if err := f.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return f.Close()
		},
	}

	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Only print these event kinds (repeatable)")
	cmd.Flags().StringSliceVar(&levels, "level", nil, "Only print these levels (repeatable)")
	cmd.Flags().StringVar(&search, "search", "", "Only print events whose summary or ids contain this text")
	cmd.Flags().BoolVar(&save, "save", false, "Save the filter flags as the view preferences (needs preferences_path)")
	return cmd
}

// tailFilter builds the filter from the flags, falling back to the saved
// view preferences when no filter flag is given. With save the flags
// replace the saved preferences.
func tailFilter(f *feed.Feed, kinds, levels []string, search string, save bool) (store.Filter, error) {
	if len(kinds) == 0 && len(levels) == 0 && search == "" && !save {
		return f.Preferences().Filter(), nil
	}

	prefs := feed.Preferences{Search: search}
	for _, k := range kinds {
		prefs.Kinds = append(prefs.Kinds, protocol.EventKind(k))
	}
	for _, l := range levels {
		prefs.Levels = append(prefs.Levels, protocol.Level(l))
	}
	if err := prefs.Validate(); err != nil {
		return store.Filter{}, err
	}
	if save {
		if err := f.SetPreferences(prefs); err != nil {
			return store.Filter{}, err
		}
	}
	return prefs.Filter(), nil
}

// tailPrinter returns a listener writing matching events, history items and
// gap notices to w.
func tailPrinter(w io.Writer, filter store.Filter) func(protocol.ServerMessage) {
	emit := func(ev protocol.TransportEvent) {
		if filter.Match(ev) {
			_, _ = fmt.Fprintln(w, formatEvent(ev))
		}
	}
	return func(msg protocol.ServerMessage) {
		switch m := msg.(type) {
		case protocol.EventMessage:
			emit(m.Event)
		case protocol.HistoryResult:
			for _, ev := range m.Items {
				emit(ev)
			}
		case protocol.Dropped:
			_, _ = fmt.Fprintln(w, formatDropped(m))
		case protocol.ErrorMessage:
			_, _ = fmt.Fprintf(w, "! server error %s: %s\n", m.Code, m.Message)
		}
	}
}
