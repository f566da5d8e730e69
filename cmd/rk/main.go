package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cl "racket/internal/cli"
	"racket/internal/config"
	"racket/internal/events"
	"racket/internal/game"
	"racket/internal/market"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "rk",
		Short:        "Racket CLI client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newLoginCmd(&apiBase),
		newRefreshCmd(&apiBase),
		newLogoutCmd(),
		newAccountCmd(&apiBase),
		newBankCmd(&apiBase),
		newMarketCmd(&apiBase),
		newEventsCmd(&apiBase),
		newLeaderboardCmd(&apiBase),
		newAdminCmd(&apiBase),
		newSyncCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

// authed loads the saved session and returns a client plus a bounded context.
func authed(cmd *cobra.Command, apiBase *string) (*cl.Client, string, context.Context, context.CancelFunc, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return nil, "", nil, nil, fmt.Errorf("login required: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	return newClient(apiBase), sess.AccessToken, ctx, cancel, nil
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login to Racket",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptRequired("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				PlayerID:     session.User.PlayerID,
			}); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newRefreshCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Renew the saved access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			if sess.RefreshToken == "" {
				return fmt.Errorf("no refresh token saved; run `rk login`")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			renewed, err := newClient(apiBase).Refresh(ctx, sess.RefreshToken)
			if err != nil {
				return err
			}
			sess.AccessToken = renewed.AccessToken
			if renewed.RefreshToken != "" {
				sess.RefreshToken = renewed.RefreshToken
			}
			if err := cl.SaveSession(sess); err != nil {
				return err
			}
			printSuccess("Session refreshed.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newAccountCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Show cash and bank balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, ctx, cancel, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			acct, err := client.Account(ctx, token)
			if err != nil {
				return err
			}
			renderAccount(acct)
			return nil
		},
	}
}

func newBankCmd(apiBase *string) *cobra.Command {
	bank := &cobra.Command{
		Use:   "bank",
		Short: "Move money between cash and the bank",
	}
	move := func(use, short string, deposit bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " [amount]",
			Short: short,
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				amount, err := int64FromArgOrPrompt(args, 0, "Amount")
				if err != nil {
					return err
				}
				client, token, ctx, cancel, err := authed(cmd, apiBase)
				if err != nil {
					return err
				}
				defer cancel()
				var acct game.Account
				if deposit {
					acct, err = client.Deposit(ctx, token, amount)
				} else {
					acct, err = client.Withdraw(ctx, token, amount)
				}
				if err != nil {
					return err
				}
				renderAccount(acct)
				return nil
			},
		}
	}
	bank.AddCommand(
		move("deposit", "Deposit cash into the bank", true),
		move("withdraw", "Withdraw banked money as cash", false),
	)
	return bank
}

func newMarketCmd(apiBase *string) *cobra.Command {
	mkt := &cobra.Command{
		Use:   "market",
		Short: "Player marketplace",
	}

	var listType, district string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Browse active listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, ctx, cancel, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			listings, err := client.Browse(ctx, token, listType, district, limit)
			if err != nil {
				return err
			}
			renderListings(listings)
			return nil
		},
	}
	list.Flags().StringVar(&listType, "type", "", "item, service, favor or intel")
	list.Flags().StringVar(&district, "district", "", "district id")
	list.Flags().IntVar(&limit, "limit", 0, "max listings (1-100)")

	sell := &cobra.Command{
		Use:   "sell",
		Short: "Create a listing (charges the listing fee)",
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := promptChoice("Type", []string{"item", "service", "favor", "intel"}, "item")
			if err != nil {
				return err
			}
			title, err := promptRequired("Title")
			if err != nil {
				return err
			}
			desc, err := promptOptional("Description (optional)")
			if err != nil {
				return err
			}
			price, err := promptInt64("Price", 1)
			if err != nil {
				return err
			}
			minOffer, err := promptInt64("Minimum offer (0 for none)", 0)
			if err != nil {
				return err
			}
			printInfo(fmt.Sprintf("Listing fee: %s", money(game.ListingFee(price))))

			in := market.CreateListingInput{Type: game.ListingType(typ), Title: title, Description: desc, Price: price, MinOffer: minOffer}
			client, token, ctx, cancel, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			idem := uuid.NewString()
			res, err := client.CreateListing(ctx, token, in, idem)
			if err != nil {
				return queueOnNetworkError(err, http.MethodPost, "/v1/market/listings", in, idem)
			}
			printSuccess(fmt.Sprintf("Listed %s (%s). Cash now %s.", res.Listing.Title, res.Listing.ID, money(res.Seller.Cash)))
			return nil
		},
	}

	buy := &cobra.Command{
		Use:   "buy [listing_id]",
		Short: "Buy a listing at its asking price",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argOrPrompt(args, 0, "Listing ID")
			if err != nil {
				return err
			}
			client, token, ctx, cancel, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			idem := uuid.NewString()
			res, err := client.Buy(ctx, token, id, idem)
			if err != nil {
				return queueOnNetworkError(err, http.MethodPost, "/v1/market/listings/"+id+"/buy", nil, idem)
			}
			renderPurchase(res)
			return nil
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel [listing_id]",
		Short: "Cancel your listing (refunds half the fee)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argOrPrompt(args, 0, "Listing ID")
			if err != nil {
				return err
			}
			client, token, ctx, cancel, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			res, err := client.CancelListing(ctx, token, id)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Cancelled. Refund %s, cash now %s.", money(res.Refund), money(res.Seller.Cash)))
			return nil
		},
	}

	offers := &cobra.Command{
		Use:   "offers [listing_id]",
		Short: "Show offers on a listing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argOrPrompt(args, 0, "Listing ID")
			if err != nil {
				return err
			}
			client, token, ctx, cancel, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			out, err := client.Offers(ctx, token, id)
			if err != nil {
				return err
			}
			renderOffers(out)
			return nil
		},
	}

	offer := &cobra.Command{
		Use:   "offer [listing_id] [amount]",
		Short: "Make or update an offer",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argOrPrompt(args, 0, "Listing ID")
			if err != nil {
				return err
			}
			amount, err := int64FromArgOrPrompt(args, 1, "Amount")
			if err != nil {
				return err
			}
			client, token, ctx, cancel, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			o, err := client.MakeOffer(ctx, token, id, amount)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Offer %s: %s (%s).", o.ID, money(o.Amount), o.Status))
			return nil
		},
	}

	accept := &cobra.Command{
		Use:   "accept [offer_id]",
		Short: "Accept an offer on your listing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argOrPrompt(args, 0, "Offer ID")
			if err != nil {
				return err
			}
			client, token, ctx, cancel, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			res, err := client.AcceptOffer(ctx, token, id)
			if err != nil {
				return err
			}
			renderPurchase(res)
			return nil
		},
	}

	closeOffer := func(action, short string) *cobra.Command {
		return &cobra.Command{
			Use:   action + " [offer_id]",
			Short: short,
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := argOrPrompt(args, 0, "Offer ID")
				if err != nil {
					return err
				}
				client, token, ctx, cancel, err := authed(cmd, apiBase)
				if err != nil {
					return err
				}
				defer cancel()
				o, err := client.CloseOffer(ctx, token, id, action)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Offer %s is now %s.", o.ID, o.Status))
				return nil
			},
		}
	}

	mkt.AddCommand(list, sell, buy, cancelCmd, offers, offer, accept,
		closeOffer("reject", "Reject an offer on your listing"),
		closeOffer("withdraw", "Withdraw your offer"),
	)
	return mkt
}

func newEventsCmd(apiBase *string) *cobra.Command {
	evs := &cobra.Command{
		Use:   "events",
		Short: "World events",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, ctx, cancel, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			out, err := client.Events(ctx, token)
			if err != nil {
				return err
			}
			renderEvents(out)
			return nil
		},
	}
	var district string
	mods := &cobra.Command{
		Use:   "modifiers",
		Short: "Show modifiers currently in force",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, ctx, cancel, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			out, err := client.Modifiers(ctx, token, district)
			if err != nil {
				return err
			}
			renderModifiers(out)
			return nil
		},
	}
	mods.Flags().StringVar(&district, "district", "", "include modifiers scoped to this district")
	evs.AddCommand(mods)
	return evs
}

func newLeaderboardCmd(apiBase *string) *cobra.Command {
	var weekly bool
	var metric string
	var limit int
	lb := &cobra.Command{
		Use:   "leaderboard",
		Short: "Global or weekly leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, ctx, cancel, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			b, err := client.Leaderboard(ctx, token, weekly, metric, limit)
			if err != nil {
				return err
			}
			title := "Global Leaderboard"
			if weekly {
				title = "Weekly Leaderboard"
			}
			renderLeaderboard(b, title)
			return nil
		},
	}
	lb.Flags().BoolVar(&weekly, "weekly", false, "rank this week's stats")
	lb.Flags().StringVar(&metric, "metric", "", "ranking metric")
	lb.Flags().IntVar(&limit, "limit", 0, "rows to show (1-100)")
	return lb
}

func newAdminCmd(apiBase *string) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Admin operations",
	}
	admin.AddCommand(&cobra.Command{
		Use:   "cash [player_id] [delta]",
		Short: "Adjust a player's cash",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("delta must be a whole number: %w", err)
			}
			client, token, ctx, cancel, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			acct, err := client.AdminCash(ctx, token, args[0], delta)
			if err != nil {
				return err
			}
			renderAccount(acct)
			return nil
		},
	})
	admin.AddCommand(&cobra.Command{
		Use:       "event [start|cancel] [key]",
		Short:     "Force-start or cancel a world event",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"start", "cancel"},
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, ctx, cancel, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			run, err := client.AdminEvent(ctx, token, args[1], args[0])
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Event %s run %s is %s.", run.EventKey, run.ID, run.Status))
			return nil
		},
	})
	admin.AddCommand(newParticipationCmd(apiBase))
	return admin
}

func newParticipationCmd(apiBase *string) *cobra.Command {
	var p events.Participation
	cmd := &cobra.Command{
		Use:   "participation [key] [player_id]",
		Short: "Report player activity on a running world event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p.PlayerID = args[1]
			client, token, ctx, cancel, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			run, err := client.AdminParticipation(ctx, token, args[0], p)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Event %s: %s participants, %s actions, %s awarded.",
				run.EventKey, comma(run.Stats.Participants), comma(run.Stats.Actions), money(run.Stats.CashAwarded)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&p.FirstAction, "first", false, "count the player as a new participant")
	cmd.Flags().Int64Var(&p.Actions, "actions", 1, "actions to add")
	cmd.Flags().Int64Var(&p.CashAwarded, "cash", 0, "cash awarded to add")
	return cmd
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay writes queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := cl.LoadQueue()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client, token, ctx, cancel, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			res := client.Replay(ctx, token, queue)
			for _, err := range res.Rejected {
				printError(fmt.Sprintf("Dropped: %v", err))
			}
			if err := cl.SaveQueue(res.Remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d dropped=%d remaining=%d", res.Replayed, len(res.Rejected), len(res.Remaining)))
			return nil
		},
	}
}

// queueOnNetworkError keeps an idempotent write for `rk sync` when it never
// reached the server. Server rejections are returned as-is.
func queueOnNetworkError(err error, method, path string, body any, idem string) error {
	if err == nil || cl.IsAPIError(err) {
		return err
	}
	var raw json.RawMessage
	if body != nil {
		b, mErr := json.Marshal(body)
		if mErr != nil {
			return err
		}
		raw = b
	}
	if qErr := cl.Enqueue(cl.PendingWrite{Method: method, Path: path, Body: raw, IdempotencyKey: idem, QueuedAt: time.Now().UTC()}); qErr != nil {
		return fmt.Errorf("%w (queueing failed: %v)", err, qErr)
	}
	printWarn("Network error; request queued. Run `rk sync` once you are back online.")
	return nil
}

func argOrPrompt(args []string, idx int, label string) (string, error) {
	if len(args) > idx && strings.TrimSpace(args[idx]) != "" {
		return strings.TrimSpace(args[idx]), nil
	}
	return promptRequired(label)
}

func int64FromArgOrPrompt(args []string, idx int, label string) (int64, error) {
	if len(args) > idx {
		v, err := strconv.ParseInt(strings.TrimSpace(args[idx]), 10, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("%s must be a positive whole number", strings.ToLower(label))
		}
		return v, nil
	}
	return promptInt64(label, 1)
}
