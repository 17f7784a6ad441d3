package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/subcommands"

	"vinsight/internal/domain"
	"vinsight/internal/store"
	"vinsight/internal/watchlist"
)

// run opens the app, runs fn and maps its error to an exit status.
func run(ctx context.Context, fn func(a *app) error) subcommands.ExitStatus {
	a, err := newApp(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer a.close()
	if err := fn(a); err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// resolveList returns id, or the active list when id is zero.
func resolveList(a *app, id int) (int, error) {
	if id != 0 {
		return id, nil
	}
	sel := a.manager.Active()
	if !sel.HasWatchlist {
		return 0, fmt.Errorf("no watchlist selected: %w", watchlist.ErrNotFound)
	}
	return sel.WatchlistID, nil
}

func parseIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, s := range args {
		id, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid watchlist id %q", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ---------------------------------------------------------------------------
// lists
// ---------------------------------------------------------------------------

type listsCmd struct{}

func (*listsCmd) Name() string     { return "lists" }
func (*listsCmd) Synopsis() string { return "show all watchlists" }
func (*listsCmd) Usage() string {
	return `vinsight lists

  Shows every watchlist in display order. The active list is marked with *.
`
}
func (*listsCmd) SetFlags(*flag.FlagSet) {}

func (*listsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(a *app) error {
		renderWatchlists(os.Stdout, a.manager.Watchlists(), a.manager.Active(), a.guest)
		return nil
	})
}

// ---------------------------------------------------------------------------
// create / delete
// ---------------------------------------------------------------------------

type createCmd struct{}

func (*createCmd) Name() string     { return "create" }
func (*createCmd) Synopsis() string { return "create a watchlist" }
func (*createCmd) Usage() string {
	return `vinsight create <name>

  Creates a new watchlist at the end of the list order.
`
}
func (*createCmd) SetFlags(*flag.FlagSet) {}

func (*createCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: a name is required.")
		return subcommands.ExitUsageError
	}
	name := strings.Join(f.Args(), " ")
	return run(ctx, func(a *app) error {
		w, err := a.manager.CreateWatchlist(ctx, name)
		if err != nil {
			return err
		}
		fmt.Printf("created watchlist %d %q\n", w.ID, w.Name)
		return nil
	})
}

type deleteCmd struct {
	yes bool
}

func (*deleteCmd) Name() string     { return "delete" }
func (*deleteCmd) Synopsis() string { return "delete a watchlist" }
func (*deleteCmd) Usage() string {
	return `vinsight delete [-yes] <id>

  Deletes a watchlist after confirmation.
`
}

func (c *deleteCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.yes, "yes", false, "Do not ask for confirmation.")
}

func (c *deleteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ids, err := parseIDs(f.Args())
	if err != nil || len(ids) != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one watchlist id is required.")
		return subcommands.ExitUsageError
	}
	return run(ctx, func(a *app) error {
		a.manager.SetConfirm(func(prompt string) bool {
			if c.yes {
				return true
			}
			return confirm(prompt)
		})
		if err := a.manager.DeleteWatchlist(ctx, ids[0]); err != nil {
			return err
		}
		fmt.Printf("deleted watchlist %d\n", ids[0])
		return nil
	})
}

func confirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// add / remove / move
// ---------------------------------------------------------------------------

type addCmd struct {
	list int
}

func (*addCmd) Name() string     { return "add" }
func (*addCmd) Synopsis() string { return "add tickers to a watchlist" }
func (*addCmd) Usage() string {
	return `vinsight add [-list <id>] <symbol>...

  Appends tickers to a watchlist. Tickers already present are left alone.
`
}

func (c *addCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.list, "list", 0, "Watchlist id. Defaults to the active list.")
}

func (c *addCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one symbol is required.")
		return subcommands.ExitUsageError
	}
	return run(ctx, func(a *app) error {
		id, err := resolveList(a, c.list)
		if err != nil {
			return err
		}
		for _, sym := range f.Args() {
			if err := a.manager.AddStock(ctx, id, sym); err != nil {
				return err
			}
		}
		w, _ := a.manager.Watchlist(id)
		renderWatchlists(os.Stdout, []domain.Watchlist{w}, a.manager.Active(), a.guest)
		return nil
	})
}

type removeCmd struct {
	list int
}

func (*removeCmd) Name() string     { return "remove" }
func (*removeCmd) Synopsis() string { return "remove tickers from a watchlist" }
func (*removeCmd) Usage() string {
	return `vinsight remove [-list <id>] <symbol>...

  Removes tickers from a watchlist.
`
}

func (c *removeCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.list, "list", 0, "Watchlist id. Defaults to the active list.")
}

func (c *removeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one symbol is required.")
		return subcommands.ExitUsageError
	}
	return run(ctx, func(a *app) error {
		id, err := resolveList(a, c.list)
		if err != nil {
			return err
		}
		for _, sym := range f.Args() {
			if err := a.manager.RemoveStock(ctx, id, sym); err != nil {
				return err
			}
		}
		w, _ := a.manager.Watchlist(id)
		renderWatchlists(os.Stdout, []domain.Watchlist{w}, a.manager.Active(), a.guest)
		return nil
	})
}

type moveCmd struct {
	yes bool
}

func (*moveCmd) Name() string     { return "move" }
func (*moveCmd) Synopsis() string { return "move a ticker to another watchlist" }
func (*moveCmd) Usage() string {
	return `vinsight move [-yes] <from-id> <to-id> <symbol>

  Moves a ticker from one watchlist to another after confirmation.
`
}

func (c *moveCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.yes, "yes", false, "Do not ask for confirmation.")
}

func (c *moveCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 3 {
		fmt.Fprintln(os.Stderr, "Error: expected <from-id> <to-id> <symbol>.")
		return subcommands.ExitUsageError
	}
	ids, err := parseIDs(f.Args()[:2])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return subcommands.ExitUsageError
	}
	return run(ctx, func(a *app) error {
		a.manager.SetConfirm(func(prompt string) bool {
			if c.yes {
				return true
			}
			return confirm(prompt)
		})
		if err := a.manager.MoveStock(ctx, ids[0], ids[1], f.Arg(2)); err != nil {
			return err
		}
		renderWatchlists(os.Stdout, a.manager.Watchlists(), a.manager.Active(), a.guest)
		return nil
	})
}

// ---------------------------------------------------------------------------
// reorder
// ---------------------------------------------------------------------------

type reorderCmd struct {
	list int
	drop bool
}

func (*reorderCmd) Name() string     { return "reorder" }
func (*reorderCmd) Synopsis() string { return "reorder watchlists or the tickers of one list" }
func (*reorderCmd) Usage() string {
	return `vinsight reorder <id>...
vinsight reorder -list <id> <symbol>...
vinsight reorder [-list <id>] -drop <dragged> <target>

  Without -list, sets the order of all watchlists; the ids must be a
  permutation of the current ones. With -list, sets the order of that list's
  tickers. With -drop, moves the dragged item to the target's position.
`
}

func (c *reorderCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.list, "list", 0, "Reorder the tickers of this watchlist.")
	f.BoolVar(&c.drop, "drop", false, "Drag-and-drop form: <dragged> <target>.")
}

func (c *reorderCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 || (c.drop && f.NArg() != 2) {
		fmt.Fprintln(os.Stderr, "Error: see 'vinsight help reorder'.")
		return subcommands.ExitUsageError
	}
	return run(ctx, func(a *app) error {
		var err error
		switch {
		case c.list != 0 && c.drop:
			err = a.manager.DropStock(ctx, c.list, f.Arg(0), f.Arg(1))
		case c.list != 0:
			err = a.manager.ReorderStocks(ctx, c.list, f.Args())
		default:
			var ids []int
			if ids, err = parseIDs(f.Args()); err != nil {
				return err
			}
			if c.drop {
				err = a.manager.DropWatchlist(ctx, ids[0], ids[1])
			} else {
				err = a.manager.ReorderWatchlists(ctx, ids)
			}
		}
		if err != nil {
			return err
		}
		renderWatchlists(os.Stdout, a.manager.Watchlists(), a.manager.Active(), a.guest)
		return nil
	})
}

// ---------------------------------------------------------------------------
// import
// ---------------------------------------------------------------------------

type importCmd struct {
	list int
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "import tickers from a CSV or Excel file" }
func (*importCmd) Usage() string {
	return `vinsight import [-list <id>] <file.csv|file.xlsx|file.xls>

  Uploads a file to the backend, which merges its tickers into the list.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.list, "list", 0, "Watchlist id. Defaults to the active list.")
}

func (c *importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one file is required.")
		return subcommands.ExitUsageError
	}
	path := f.Arg(0)
	return run(ctx, func(a *app) error {
		id, err := resolveList(a, c.list)
		if err != nil {
			return err
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		w, err := a.manager.ImportFile(ctx, id, filepath.Base(path), file)
		if err != nil {
			return err
		}
		renderWatchlists(os.Stdout, []domain.Watchlist{w}, a.manager.Active(), a.guest)
		return nil
	})
}

// ---------------------------------------------------------------------------
// quote / prices / history
// ---------------------------------------------------------------------------

type quoteCmd struct {
	watch bool
}

func (*quoteCmd) Name() string     { return "quote" }
func (*quoteCmd) Synopsis() string { return "show the realtime quote for a ticker" }
func (*quoteCmd) Usage() string {
	return `vinsight quote [-watch] [symbol]

  Fetches the quote for symbol, or for the focused ticker when omitted. With
  -watch, keeps polling at the market-session cadence until interrupted.
`
}

func (c *quoteCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.watch, "watch", false, "Keep polling until interrupted.")
}

func (c *quoteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return run(ctx, func(a *app) error {
		symbol := f.Arg(0)
		if symbol == "" {
			symbol = a.manager.Active().Symbol
		}
		if domain.NormalizeSymbol(symbol) == "" {
			return fmt.Errorf("no ticker given and none focused: %w", watchlist.ErrEmptySymbol)
		}

		sched, err := a.newScheduler()
		if err != nil {
			return err
		}
		defer sched.Close()

		if !c.watch {
			sched.SetEnabled(false)
			sched.SetTicker(symbol)
			if err := sched.Refetch(ctx); err != nil {
				return err
			}
			st := sched.State()
			if st.Quote == nil {
				return fmt.Errorf("no quote for %s", domain.NormalizeSymbol(symbol))
			}
			renderQuote(os.Stdout, *st.Quote, 0)
			return nil
		}

		subID, quotes := sched.Subscribe(16)
		defer sched.Unsubscribe(subID)
		sched.SetErrorHandler(func(sym string, err error) {
			fmt.Fprintf(os.Stderr, "%s: %v\n", sym, err)
		})
		sched.SetTicker(symbol)
		for {
			select {
			case <-ctx.Done():
				return nil
			case q, ok := <-quotes:
				if !ok {
					return nil
				}
				renderQuote(os.Stdout, q, sched.State().Interval)
			}
		}
	})
}

type pricesCmd struct {
	list int
}

func (*pricesCmd) Name() string     { return "prices" }
func (*pricesCmd) Synopsis() string { return "show prices for every ticker of a watchlist" }
func (*pricesCmd) Usage() string {
	return `vinsight prices [-list <id>]

  Fetches batch price details for a watchlist.
`
}

func (c *pricesCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.list, "list", 0, "Watchlist id. Defaults to the active list.")
}

func (c *pricesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(a *app) error {
		if c.list != 0 {
			if err := a.manager.Select(c.list); err != nil {
				return err
			}
		}
		id, err := resolveList(a, 0)
		if err != nil {
			return err
		}
		if err := a.manager.RefreshPrices(ctx); err != nil {
			return err
		}
		w, _ := a.manager.Watchlist(id)
		renderPrices(os.Stdout, w, a.manager)
		return nil
	})
}

type historyCmd struct {
	days int
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "show archived quotes" }
func (*historyCmd) Usage() string {
	return `vinsight history [-days <n>] [symbol]

  Prints quotes archived by 'serve' when quotes.archive is on. Without a
  symbol, lists the archived symbols.
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.days, "days", 1, "Number of days to show, ending today.")
}

func (c *historyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	st := store.NewParquetQuoteStore(cfg.Storage.DataDir)

	if f.NArg() == 0 {
		symbols, err := st.ListSymbols(ctx)
		if err != nil {
			fail(err)
			return subcommands.ExitFailure
		}
		for _, s := range symbols {
			fmt.Println(symbolStyle.Render(s))
		}
		return subcommands.ExitSuccess
	}

	end := time.Now()
	start := end.AddDate(0, 0, -max(c.days, 1))
	quotes, err := st.ReadQuotes(ctx, f.Arg(0), start, end)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	if len(quotes) == 0 {
		fmt.Println(dimStyle.Render("no archived quotes"))
	}
	for _, q := range quotes {
		renderQuote(os.Stdout, q, 0)
	}
	return subcommands.ExitSuccess
}
