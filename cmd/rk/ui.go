package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"racket/internal/game"
	"racket/internal/leaderboard"
	"racket/internal/market"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func renderAccount(a game.Account) {
	accent.Println("\n== ACCOUNT ==")
	fmt.Printf("Cash:       %s\n", money(a.Cash))
	fmt.Printf("Bank:       %s\n", money(a.Bank))
	fmt.Printf("Net Worth:  %s\n", money(a.NetWorth()))
	fmt.Println()
}

func renderListings(listings []game.Listing) {
	accent.Println("\n== MARKET ==")
	if len(listings) == 0 {
		printInfo("No active listings.")
		return
	}
	fmt.Printf("%-36s %-8s %-24s %12s %12s %-16s\n", "ID", "TYPE", "TITLE", "PRICE", "MIN OFFER", "EXPIRES")
	for _, l := range listings {
		minOffer := "-"
		if l.MinOffer > 0 {
			minOffer = money(l.MinOffer)
		}
		fmt.Printf("%-36s %-8s %-24s %12s %12s %-16s\n",
			l.ID,
			l.Type,
			truncate(l.Title, 24),
			money(l.Price),
			minOffer,
			l.ExpiresAt.Local().Format("2006-01-02 15:04"),
		)
	}
	fmt.Println()
}

func renderPurchase(res market.PurchaseResult) {
	accent.Println("\n== PURCHASE ==")
	fmt.Printf("Item:    %s (%s)\n", res.Transaction.Item.Title, res.Transaction.Item.Type)
	fmt.Printf("Price:   %s\n", money(res.Transaction.Price))
	fmt.Printf("Fee:     %s\n", money(res.Transaction.Fee))
	fmt.Printf("Buyer:   %s cash left\n", money(res.Buyer.Cash))
	fmt.Printf("Seller:  %s\n", res.Transaction.SellerID)
	fmt.Println()
}

func renderOffers(offers []game.Offer) {
	accent.Println("\n== OFFERS ==")
	if len(offers) == 0 {
		printInfo("No offers visible to you.")
		return
	}
	fmt.Printf("%-36s %-36s %12s %-10s\n", "ID", "BUYER", "AMOUNT", "STATUS")
	for _, o := range offers {
		fmt.Printf("%-36s %-36s %12s %-10s\n", o.ID, o.BuyerID, money(o.Amount), colorizeStatus(string(o.Status)))
	}
	fmt.Println()
}

func renderEvents(evs []game.ScheduledEvent) {
	accent.Println("\n== WORLD EVENTS ==")
	if len(evs) == 0 {
		printInfo("No world events configured.")
		return
	}
	fmt.Printf("%-18s %-22s %-22s %-10s %-10s %-16s\n", "KEY", "NAME", "SCHEDULE", "DURATION", "STATE", "NEXT")
	for _, ev := range evs {
		state := "idle"
		switch {
		case ev.Running:
			state = "running"
		case !ev.Enabled:
			state = "disabled"
		}
		next := "-"
		if ev.NextTriggerAt != nil {
			next = ev.NextTriggerAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("%-18s %-22s %-22s %-10s %-10s %-16s\n",
			truncate(ev.Key, 18),
			truncate(ev.Name, 22),
			truncate(ev.Schedule.String(), 22),
			ev.Duration.Round(time.Minute),
			colorizeStatus(state),
			next,
		)
	}
	fmt.Println()
}

func renderModifiers(set game.ModifierSet) {
	accent.Println("\n== ACTIVE MODIFIERS ==")
	if len(set) == 0 {
		printInfo("Nothing in force right now.")
		return
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		m := set[game.ModifierKey(k)]
		fmt.Printf("%-22s %-4s %g\n", k, m.Op, m.Value)
	}
	fmt.Println()
}

func renderLeaderboard(b leaderboard.Board, title string) {
	accent.Printf("\n== %s (%s) ==\n", strings.ToUpper(title), b.Metric)
	if len(b.Entries) == 0 {
		printInfo("No leaderboard rows yet.")
		return
	}
	fmt.Printf("%-6s %-20s %14s\n", "RANK", "PLAYER", "VALUE")
	for _, e := range b.Entries {
		name := e.Username
		if name == "" {
			name = e.PlayerID
		}
		fmt.Printf("%-6d %-20s %14s\n", e.Rank, truncate(name, 20), comma(e.Value))
	}
	fmt.Printf("\n%d ranked players\n\n", b.Total)
}

func colorizeStatus(s string) string {
	switch s {
	case "running", "accepted", "active", "sold":
		return success.Sprint(s)
	case "rejected", "withdrawn", "cancelled", "expired", "disabled":
		return danger.Sprint(s)
	default:
		return neutral.Sprint(s)
	}
}

func money(v int64) string {
	if v < 0 {
		return "-$" + comma(-v)
	}
	return "$" + comma(v)
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
