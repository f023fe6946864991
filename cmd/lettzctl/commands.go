package main

import (
	"github.com/spf13/cobra"

	"lettz/internal/app/commands"
	"lettz/internal/app/dto"
	conversationhandlers "lettz/internal/app/handlers/conversations"
	listinghandlers "lettz/internal/app/handlers/listings"
	notificationhandlers "lettz/internal/app/handlers/notifications"
	"lettz/internal/app/queries"
)

func newRemoveListingCmd(rt *runtime, uid *string) *cobra.Command {
	var requestKey string
	cmd := &cobra.Command{
		Use:   "remove-listing <listing-id>",
		Short: "Delete a listing with its conversations and every reference to them.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := commands.Dispatch[listinghandlers.RemoveListingCommand, *dto.ListingRemoval](cmd.Context(), rt.app.Commands, listinghandlers.RemoveListingCommand{
				ListingID:  args[0],
				OwnerID:    *uid,
				RequestKey: requestKey,
			})
			if err != nil {
				return err
			}
			return printJSON(rt.out, res)
		},
	}
	cmd.Flags().StringVar(&requestKey, "request-key", "", "idempotency key; repeating it replays the first result")
	return cmd
}

func newConversationsCmd(rt *runtime, uid *string) *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List the user's conversations, most recent first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := queries.Ask[conversationhandlers.ListConversationsQuery, dto.ConversationList](cmd.Context(), rt.app.Queries, conversationhandlers.ListConversationsQuery{UID: *uid})
			if err != nil {
				return err
			}
			return printJSON(rt.out, res)
		},
	}
}

func newNotificationsCmd(rt *runtime, uid *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Show the user's notification flags.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := queries.Ask[notificationhandlers.GetNotificationsQuery, dto.Notifications](cmd.Context(), rt.app.Queries, notificationhandlers.GetNotificationsQuery{UID: *uid})
			if err != nil {
				return err
			}
			return printJSON(rt.out, res)
		},
	}
	set := func(use, short string, raised bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <category>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				res, err := commands.Dispatch[notificationhandlers.SetNotificationCommand, *dto.Notifications](cmd.Context(), rt.app.Commands, notificationhandlers.SetNotificationCommand{
					UID:      *uid,
					Category: args[0],
					Raised:   raised,
				})
				if err != nil {
					return err
				}
				return printJSON(rt.out, res)
			},
		}
	}
	cmd.AddCommand(
		set("raise", "Raise a notification category.", true),
		set("clear", "Clear a notification category.", false),
	)
	return cmd
}
