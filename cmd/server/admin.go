package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dkeye/parlor/internal/config"
	"github.com/dkeye/parlor/internal/domain"
	"github.com/dkeye/parlor/internal/store"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type loadFunc func() (*config.Config, error)

func withStore(ctx context.Context, load loadFunc, fn func(*store.Store) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	return fn(db)
}

func parseUserID(s string) (domain.UserID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q: %w", s, err)
	}
	return domain.UserID(n), nil
}

func newUserCmd(load loadFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <username>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := domain.NewUser(0, args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), load, func(db *store.Store) error {
				id, err := db.CreateUser(cmd.Context(), u.Username)
				if err != nil {
					return err
				}
				log.Info().Str("user", id.String()).Str("username", u.Username).Msg("user created")
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	})
	return cmd
}

func newRoomCmd(load loadFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "room", Short: "Manage rooms"}

	var owner string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a room owned by --owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := parseUserID(owner)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), load, func(db *store.Store) error {
				id, err := db.CreateRoom(cmd.Context(), args[0], ownerID)
				if err != nil {
					return err
				}
				log.Info().Str("room", id.String()).Str("owner", ownerID.String()).Msg("room created")
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	add.Flags().StringVar(&owner, "owner", "", "owner user id")
	_ = add.MarkFlagRequired("owner")

	member := &cobra.Command{
		Use:   "member <room_id> <user_id>",
		Short: "Add a user to a room",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID, err := domain.ParseRoomID(args[0])
			if err != nil {
				return fmt.Errorf("invalid room id %q: %w", args[0], err)
			}
			userID, err := parseUserID(args[1])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), load, func(db *store.Store) error {
				ok, err := db.RoomExists(cmd.Context(), roomID)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("room %s: %w", roomID, store.ErrNotFound)
				}
				return db.AddMember(cmd.Context(), roomID, userID)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List rooms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), load, func(db *store.Store) error {
				rooms, err := db.ListRooms(cmd.Context())
				if err != nil {
					return err
				}
				table := tablewriter.NewWriter(cmd.OutOrStdout())
				table.SetHeader([]string{"Room", "Name", "Owner"})
				table.SetAutoFormatHeaders(false)
				table.SetAlignment(tablewriter.ALIGN_LEFT)
				table.SetBorder(false)
				table.SetCenterSeparator("")
				table.SetColumnSeparator("")
				table.SetRowSeparator("")
				table.SetHeaderLine(false)
				table.SetTablePadding("\t")
				table.SetNoWhiteSpace(true)
				for _, r := range rooms {
					table.Append([]string{r.ID.String(), r.Name, r.OwnerID.String()})
				}
				table.Render()
				return nil
			})
		},
	}

	cmd.AddCommand(add, member, list)
	return cmd
}
