package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adeilh/tripdesk/auth"
	"github.com/adeilh/tripdesk/mockapi"
	"github.com/adeilh/tripdesk/trips"
)

func tripsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trips",
		Short: "List, inspect and delete trips",
	}

	var params trips.ListParams
	var available string
	list := &cobra.Command{
		Use:   "list",
		Short: "List trips",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if available != "" {
				v, err := strconv.ParseBool(available)
				if err != nil {
					return fmt.Errorf("--available: %w", err)
				}
				params.IsAvailable = &v
			}
			return a.runTrips(cmd, func(ctx context.Context, c *trips.Client) (any, error) {
				return c.GetAllTrips(ctx, params)
			})
		},
	}
	list.Flags().IntVar(&params.PageNumber, "page", 1, "page number")
	list.Flags().IntVar(&params.PageSize, "size", 10, "page size")
	list.Flags().StringVar(&params.Search, "search", "", "name filter")
	list.Flags().StringVar(&params.Sort, "sort", "", "sort, e.g. price:asc")
	list.Flags().IntVar(&params.TranslationLanguageID, "language", 0, "translation language id")
	list.Flags().StringVar(&available, "available", "", "only available (true) or unavailable (false) trips")

	var admin bool
	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one trip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.runTrips(cmd, func(ctx context.Context, c *trips.Client) (any, error) {
				var (
					detail trips.Detail
					err    error
				)
				if admin {
					detail, err = c.GetTripAdmin(ctx, id)
				} else {
					detail, err = c.GetTripPublic(ctx, id)
				}
				if err != nil {
					return nil, err
				}
				return json.RawMessage(detail.Raw), nil
			})
		},
	}
	get.Flags().BoolVar(&admin, "admin", false, "load every translation for editing")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a trip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.runTrips(cmd, func(ctx context.Context, c *trips.Client) (any, error) {
				if err := c.DeleteTrip(ctx, id); err != nil {
					return nil, err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted trip %d\n", id)
				return nil, nil
			})
		},
	}

	cmd.AddCommand(list, get, del)
	return cmd
}

func reviewsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reviews",
		Short: "Read and moderate trip reviews",
	}

	var sort string
	list := &cobra.Command{
		Use:   "list <trip-id>",
		Short: "List reviews of a trip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.runTrips(cmd, func(ctx context.Context, c *trips.Client) (any, error) {
				return c.GetReviews(ctx, id, sort)
			})
		},
	}
	list.Flags().StringVar(&sort, "sort", "date:desc", "sort, e.g. rating:asc")

	del := &cobra.Command{
		Use:   "delete <trip-id> <user-id>",
		Short: "Delete a user's review of a trip",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tripID, err := parseID(args[0])
			if err != nil {
				return err
			}
			userID, err := parseID(args[1])
			if err != nil {
				return err
			}
			return a.runTrips(cmd, func(ctx context.Context, c *trips.Client) (any, error) {
				return nil, c.DeleteReview(ctx, tripID, userID)
			})
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}

func lookupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "lookup <languages|activities|categories|includes>",
		Short:     "Print a lookup list",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"languages", "activities", "categories", "includes"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTrips(cmd, func(ctx context.Context, c *trips.Client) (any, error) {
				switch args[0] {
				case "languages":
					return c.Languages(ctx)
				case "activities":
					return c.Activities(ctx)
				case "categories":
					return c.Categories(ctx)
				default:
					return c.Includes(ctx)
				}
			})
		},
	}
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and clear stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.client.Close()
			return s.client.Logout(cmd.Context())
		},
	}
}

func watchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Hold a session open until another instance logs out",
		Long: `watch keeps a session alive and exits as soon as a process sharing the
same redis or postgres storage removes the token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := a.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.client.Close()
			if err := s.start(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "session ready, watching for logout")

			err = s.client.WatchCrossTab(ctx)
			if errors.Is(err, auth.ErrNoBus) {
				return fmt.Errorf("storage backend %q cannot share events: %w", a.cfg.Storage.Backend, err)
			}
			if err := s.finish(err); err != nil {
				return err
			}
			return nil
		},
	}
}

func mockServerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mock-server",
		Short: "Run the in-process mock backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.ValidateMock(); err != nil {
				return err
			}
			backend, err := mockapi.New(mockapi.Options{
				Address:      a.cfg.Mock.Address,
				Secret:       []byte(a.cfg.Mock.Secret),
				Users:        a.cfg.Mock.Users,
				PasswordCost: a.cfg.Mock.PasswordCost,
				TokenTTL:     a.cfg.Mock.TokenTTL,
				SessionTTL:   a.cfg.Mock.SessionTTL,
				Sessions:     a.store,
				Logger:       a.log,
				AllowOrigins: a.cfg.Mock.AllowOrigins,
				AccessLog:    a.cfg.Mock.AccessLog,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			a.log.Info("mock backend listening", "address", a.cfg.Mock.Address)
			if err := backend.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func parseID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
