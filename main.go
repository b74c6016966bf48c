package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lotas/unicart/internal/applog"
	"github.com/lotas/unicart/internal/background"
	"github.com/lotas/unicart/internal/bridge"
	"github.com/lotas/unicart/internal/cart"
	"github.com/lotas/unicart/internal/config"
	"github.com/lotas/unicart/internal/export"
	"github.com/lotas/unicart/internal/extract"
	"github.com/lotas/unicart/internal/price"
	"github.com/lotas/unicart/internal/probe"
	"github.com/lotas/unicart/internal/server"
	"github.com/lotas/unicart/internal/storage"
	"github.com/lotas/unicart/internal/tui"
	"github.com/lotas/unicart/internal/types"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "list":
			runList(os.Args[2:])
			return
		case "add":
			runAdd(os.Args[2:])
			return
		case "add-url":
			runAddURL(os.Args[2:])
			return
		case "edit":
			runEdit(os.Args[2:])
			return
		case "move":
			runMove(os.Args[2:])
			return
		case "remove", "rm":
			runRemove(os.Args[2:])
			return
		case "clear":
			runClear(os.Args[2:])
			return
		case "folder":
			runFolder(os.Args[2:])
			return
		case "currency":
			runCurrency(os.Args[2:])
			return
		case "export":
			runExport(os.Args[2:])
			return
		case "exports":
			runExports(os.Args[2:])
			return
		case "extract":
			runExtract(os.Args[2:])
			return
		case "refresh":
			runRefresh(os.Args[2:])
			return
		case "serve":
			runServe(os.Args[2:])
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
	}

	fs := flag.NewFlagSet("unicart", flag.ExitOnError)
	common := addCommonFlags(fs)
	port := fs.Int("port", 0, "WebSocket port for the extension bridge")
	offline := fs.Bool("offline", false, "Do not listen for the extension")
	fs.Parse(os.Args[1:])

	sess := openSession(common)
	defer sess.close()
	if *port != 0 {
		sess.cfg.Port = *port
	}

	opts := tui.Options{
		Settle:    sess.settle(),
		ExportDir: sess.cfg.ExportDir,
		DB:        sess.db,
		SyncEvery: 2 * time.Second,
	}
	if !*offline {
		opts.Server = server.New(sess.cfg.Port)
	}

	model := tui.NewModel(sess.cart, opts)
	p := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Print(`unicart - universal shopping cart

Usage:
  unicart                                              Start the TUI (default)
    --port <n>             WebSocket port for the extension (default: 19192)
    --offline              Run without the extension bridge

  unicart list                                         List items grouped by folder
    --by-retailer          Group by retailer instead
    --json                 Print the cart as JSON

  unicart add <name> <price>                           Add an item by hand
    --url <url>            Product page
    --notes <text>         Notes
    --folder <name>        Folder (default: Uncategorized)

  unicart add-url <url>                                Download a product page and add it
    --folder <name>        Folder (default: Uncategorized)

  unicart edit <id>                                    Edit an item
    --name, --price, --url, --notes, --folder

  unicart move <id> <folder>                           Move an item to a folder
  unicart remove <id>                                  Remove an item
  unicart clear [--yes]                                Remove every item

  unicart folder list                                  List folders with item counts
  unicart folder create <name> [--color c]             Create a folder
  unicart folder rename <old> <new> [--color c]        Rename a folder
  unicart folder delete <name> [--yes]                 Delete a folder, items move to Uncategorized

  unicart currency [EUR|USD|JPY|GBP]                   Show or set the currency label

  unicart export                                       Write the cart to a dated file
    --out-dir <dir>        Output directory (default: config export_dir)
    --lz4                  Compress the JSON with lz4
    --markdown             Write Markdown instead of JSON
  unicart exports                                      Show export history

  unicart extract <url|file>                           Run the extractor and print the result
    --url <url>            Page URL when reading a file

  unicart refresh                                      Re-check prices of items with a URL
    --live                 Open pages in the browser through the extension
    --port <n>             WebSocket port for --live

  unicart serve                                        Answer extension requests without the TUI
    --port <n>             WebSocket port (default: 19192)

  unicart help                                         Show this help

Common flags:
  --config <file>          Config file (default: ~/.config/unicart/config.yaml)
  --db <file>              Database path (default: <data_dir>/unicart.db)

Environment:
  UNICART_CONFIG, UNICART_PORT, UNICART_DB, UNICART_DATA_DIR,
  UNICART_SETTLE_DELAY, UNICART_CURRENCY
`)
}

// commonFlags are accepted by every subcommand that touches the cart.
type commonFlags struct {
	config *string
	db     *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		config: fs.String("config", "", "Config file path"),
		db:     fs.String("db", "", "Database path"),
	}
}

type session struct {
	cfg  *config.Config
	db   *sql.DB
	cart *cart.Model
}

// openSession resolves the config, opens the log and the database and loads
// the cart. It exits on failure.
func openSession(c commonFlags) *session {
	cfg, err := config.Load(*c.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *c.db != "" {
		cfg.DatabasePath = *c.db
	}

	if err := applog.Init(cfg.DataDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}

	db, err := storage.OpenDB(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	rev, err := storage.NewKV(db).Revision(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading database: %v\n", err)
		os.Exit(1)
	}
	m, err := cart.Load(ctx, storage.NewCartStore(db))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading cart: %v\n", err)
		os.Exit(1)
	}
	// A database nobody has written yet starts with the configured currency.
	if rev == 0 && types.Currency(cfg.Currency) != m.Currency() {
		if err := m.SetCurrency(ctx, types.Currency(cfg.Currency)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	return &session{cfg: cfg, db: db, cart: m}
}

func (s *session) close() {
	s.db.Close()
	applog.Close()
}

func (s *session) settle() time.Duration {
	d, err := s.cfg.Settle()
	if err != nil {
		return probe.DefaultSettleDelay
	}
	return d
}

func (s *session) extractOptions() extract.Options {
	return extract.Options{Readability: s.cfg.UseReadability()}
}

// checkSaved reports a failed write. The command already succeeded in
// memory, so this is a warning, not an exit.
func (s *session) checkSaved() {
	if err := s.cart.PersistErr(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: not saved: %v\n", err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func reorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			flags = append(flags, args[i])
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") && !isBoolFlag(args[i]) {
				flags = append(flags, args[i+1])
				i++
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}

// isBoolFlag lists the switches that take no value, so reorderArgs does not
// swallow the positional argument after them.
func isBoolFlag(arg string) bool {
	switch strings.TrimLeft(arg, "-") {
	case "yes", "json", "lz4", "markdown", "live", "offline", "by-retailer":
		return true
	}
	return strings.Contains(arg, "=")
}

func printItem(it types.Item, cur types.Currency) {
	fmt.Printf("  %s  %-40s %10s", it.ID, it.Name, price.Format(it.Price, cur))
	if it.URL != "" {
		fmt.Printf("  %s", it.URL)
	}
	fmt.Println()
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	common := addCommonFlags(fs)
	byRetailer := fs.Bool("by-retailer", false, "Group by retailer")
	asJSON := fs.Bool("json", false, "Print the cart as JSON")
	fs.Parse(reorderArgs(args))

	sess := openSession(common)
	defer sess.close()
	c := sess.cart

	if *asJSON {
		snap, err := c.Export(time.Now())
		if errors.Is(err, cart.ErrCartEmpty) {
			snap = types.Snapshot{Items: []types.Item{}, ExportedAt: time.Now().UTC(), Currency: c.Currency()}
		} else if err != nil {
			fail(err)
		}
		out, err := export.JSON(snap)
		if err != nil {
			fail(err)
		}
		fmt.Print(out)
		return
	}

	items := c.Items()
	if len(items) == 0 {
		fmt.Println("Your cart is empty.")
		return
	}
	mode := types.GroupByFolder
	if *byRetailer {
		mode = types.GroupByRetailer
	}
	cur := c.Currency()
	for _, g := range cart.GroupBy(mode, items) {
		fmt.Printf("%s (%s, %s)\n", g.Key, price.CountLabel(len(g.Items)), price.Format(price.Total(g.Items), cur))
		for _, it := range g.Items {
			printItem(it, cur)
		}
	}
	fmt.Printf("\n%s, total %s\n", price.CountLabel(len(items)), price.Format(price.Total(items), cur))
}

func runAdd(args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	common := addCommonFlags(fs)
	url := fs.String("url", "", "Product page URL")
	notes := fs.String("notes", "", "Notes")
	folder := fs.String("folder", "", "Folder")
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: unicart add <name> <price> [--url u] [--notes n] [--folder f]")
		os.Exit(1)
	}

	f, err := cart.ParseInput(fs.Arg(0), fs.Arg(1), *url, *notes)
	if err != nil {
		fail(err)
	}

	sess := openSession(common)
	defer sess.close()

	it, err := sess.cart.AddItem(context.Background(), f, *folder)
	if err != nil {
		fail(err)
	}
	sess.checkSaved()
	fmt.Printf("Added %s (%s) to %s.\n", it.Name, price.Format(it.Price, sess.cart.Currency()), it.Folder)
	fmt.Println(it.ID)
}

func runAddURL(args []string) {
	fs := flag.NewFlagSet("add-url", flag.ExitOnError)
	common := addCommonFlags(fs)
	folder := fs.String("folder", "", "Folder")
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: unicart add-url <url> [--folder f]")
		os.Exit(1)
	}
	pageURL := fs.Arg(0)
	if !extract.Fetchable(pageURL) {
		fail(fmt.Errorf("cannot download %q: only http and https pages are supported", pageURL))
	}

	sess := openSession(common)
	defer sess.close()

	ctx, cancel := context.WithTimeout(context.Background(), probe.DefaultStepTimeout)
	defer cancel()
	raw, err := extract.Fetch(ctx, pageURL)
	if err != nil {
		fail(err)
	}
	ext, err := extract.Page(raw, pageURL, sess.extractOptions())
	if err != nil {
		fail(err)
	}

	it, err := sess.cart.AddExtracted(context.Background(), ext, pageURL, types.SourcePageExtraction, *folder)
	if errors.Is(err, cart.ErrNotExtracted) {
		fail(fmt.Errorf("could not extract product info from %s", pageURL))
	} else if err != nil {
		fail(err)
	}
	sess.checkSaved()
	fmt.Printf("Added %s (%s) to %s.\n", it.Name, price.Format(it.Price, sess.cart.Currency()), it.Folder)
	fmt.Println(it.ID)
}

func runEdit(args []string) {
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	common := addCommonFlags(fs)
	name := fs.String("name", "", "New name")
	priceArg := fs.String("price", "", "New price")
	url := fs.String("url", "", "New URL")
	notes := fs.String("notes", "", "New notes")
	folder := fs.String("folder", "", "New folder")
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: unicart edit <id> [--name n] [--price p] [--url u] [--notes n] [--folder f]")
		os.Exit(1)
	}

	sess := openSession(common)
	defer sess.close()

	id := fs.Arg(0)
	it, ok := sess.cart.Item(id)
	if !ok {
		fail(fmt.Errorf("item %s: %w", id, cart.ErrItemNotFound))
	}

	// Flags that were not given keep the item's current value.
	n, p, u, no, fo := it.Name, strconv.FormatFloat(it.Price, 'f', -1, 64), it.URL, it.Notes, it.Folder
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			n = *name
		case "price":
			p = *priceArg
		case "url":
			u = *url
		case "notes":
			no = *notes
		case "folder":
			fo = *folder
		}
	})

	fields, err := cart.ParseInput(n, p, u, no)
	if err != nil {
		fail(err)
	}
	if err := sess.cart.EditItem(context.Background(), id, fields, fo); err != nil {
		fail(err)
	}
	sess.checkSaved()
	fmt.Printf("Updated %s.\n", fields.Name)
}

func runMove(args []string) {
	fs := flag.NewFlagSet("move", flag.ExitOnError)
	common := addCommonFlags(fs)
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: unicart move <id> <folder>")
		os.Exit(1)
	}

	sess := openSession(common)
	defer sess.close()

	if err := sess.cart.MoveItem(context.Background(), fs.Arg(0), fs.Arg(1)); err != nil {
		fail(err)
	}
	sess.checkSaved()
	fmt.Printf("Moved to %s.\n", fs.Arg(1))
}

func runRemove(args []string) {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	common := addCommonFlags(fs)
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: unicart remove <id>")
		os.Exit(1)
	}

	sess := openSession(common)
	defer sess.close()

	id := fs.Arg(0)
	it, ok := sess.cart.Item(id)
	if !ok {
		fmt.Println("Nothing to remove.")
		return
	}
	sess.cart.RemoveItem(context.Background(), id)
	sess.checkSaved()
	fmt.Printf("Removed %s.\n", it.Name)
}

func runClear(args []string) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	common := addCommonFlags(fs)
	yes := fs.Bool("yes", false, "Skip confirmation prompt")
	fs.Parse(reorderArgs(args))

	sess := openSession(common)
	defer sess.close()

	n := len(sess.cart.Items())
	res := sess.cart.Clear(context.Background(), func() bool {
		return *yes || confirm(fmt.Sprintf("Remove all %s from the cart?", price.CountLabel(n)))
	})
	switch res {
	case cart.ClearAlreadyEmpty:
		fmt.Println("Cart is already empty.")
	case cart.ClearCancelled:
		fmt.Println("Aborted.")
	case cart.ClearDone:
		sess.checkSaved()
		fmt.Println("Cart cleared.")
	}
}

func runFolder(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: unicart folder <list|create|rename|delete>")
		os.Exit(1)
	}
	switch args[0] {
	case "list":
		runFolderList(args[1:])
	case "create":
		runFolderCreate(args[1:])
	case "rename":
		runFolderRename(args[1:])
	case "delete":
		runFolderDelete(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown folder subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func runFolderList(args []string) {
	fs := flag.NewFlagSet("folder list", flag.ExitOnError)
	common := addCommonFlags(fs)
	fs.Parse(reorderArgs(args))

	sess := openSession(common)
	defer sess.close()

	counts := sess.cart.FolderCounts()
	fmt.Printf("%-30s %-8s %s\n", "FOLDER", "COLOR", "ITEMS")
	for _, f := range sess.cart.Folders() {
		fmt.Printf("%-30s %-8s %d\n", f.Name, f.Color, counts[f.Name])
	}
}

func runFolderCreate(args []string) {
	fs := flag.NewFlagSet("folder create", flag.ExitOnError)
	common := addCommonFlags(fs)
	color := fs.String("color", "", "Folder color")
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: unicart folder create <name> [--color c]")
		os.Exit(1)
	}

	sess := openSession(common)
	defer sess.close()

	if err := sess.cart.CreateFolder(context.Background(), fs.Arg(0), *color); err != nil {
		fail(err)
	}
	sess.checkSaved()
	fmt.Printf("Folder %s created.\n", fs.Arg(0))
}

func runFolderRename(args []string) {
	fs := flag.NewFlagSet("folder rename", flag.ExitOnError)
	common := addCommonFlags(fs)
	color := fs.String("color", "", "New color (default: keep)")
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: unicart folder rename <old> <new> [--color c]")
		os.Exit(1)
	}

	sess := openSession(common)
	defer sess.close()

	if err := sess.cart.RenameFolder(context.Background(), fs.Arg(0), fs.Arg(1), *color); err != nil {
		fail(err)
	}
	sess.checkSaved()
	fmt.Printf("Folder %s renamed to %s.\n", fs.Arg(0), fs.Arg(1))
}

func runFolderDelete(args []string) {
	fs := flag.NewFlagSet("folder delete", flag.ExitOnError)
	common := addCommonFlags(fs)
	yes := fs.Bool("yes", false, "Skip confirmation prompt")
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: unicart folder delete <name> [--yes]")
		os.Exit(1)
	}
	name := fs.Arg(0)

	sess := openSession(common)
	defer sess.close()

	n := sess.cart.FolderCounts()[name]
	if !*yes && n > 0 && !confirm(fmt.Sprintf("Delete %s? %s will move to %s.", name, price.CountLabel(n), types.Uncategorized)) {
		fmt.Println("Aborted.")
		return
	}
	if err := sess.cart.DeleteFolder(context.Background(), name); err != nil {
		fail(err)
	}
	sess.checkSaved()
	fmt.Printf("Folder %s deleted.\n", name)
}

func runCurrency(args []string) {
	fs := flag.NewFlagSet("currency", flag.ExitOnError)
	common := addCommonFlags(fs)
	fs.Parse(reorderArgs(args))

	sess := openSession(common)
	defer sess.close()

	if fs.NArg() == 0 {
		fmt.Println(sess.cart.Currency())
		return
	}
	code := types.Currency(strings.ToUpper(fs.Arg(0)))
	if err := sess.cart.SetCurrency(context.Background(), code); err != nil {
		fail(err)
	}
	sess.checkSaved()
	fmt.Printf("Currency set to %s (%s).\n", code, price.Symbol(code))
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	common := addCommonFlags(fs)
	outDir := fs.String("out-dir", "", "Output directory")
	compress := fs.Bool("lz4", false, "Compress the JSON with lz4")
	markdown := fs.Bool("markdown", false, "Write Markdown instead of JSON")
	fs.Parse(reorderArgs(args))

	if *compress && *markdown {
		fmt.Fprintln(os.Stderr, "Error: --lz4 and --markdown are mutually exclusive")
		os.Exit(1)
	}

	sess := openSession(common)
	defer sess.close()

	dir := sess.cfg.ExportDir
	if *outDir != "" {
		dir = *outDir
	}
	format := export.FormatJSON
	switch {
	case *compress:
		format = export.FormatJSONLZ4
	case *markdown:
		format = export.FormatMarkdown
	}

	snap, err := sess.cart.Export(time.Now())
	if errors.Is(err, cart.ErrCartEmpty) {
		fmt.Println("Your cart is empty. Nothing to export.")
		return
	} else if err != nil {
		fail(err)
	}

	path, err := export.Write(dir, snap, format)
	if err != nil {
		fail(err)
	}
	if _, err := storage.RecordExport(sess.db, storage.ExportRecord{
		Path:       path,
		TotalItems: snap.TotalItems,
		TotalPrice: snap.TotalPrice,
		Currency:   string(snap.Currency),
		ExportedAt: snap.ExportedAt,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: export history not updated: %v\n", err)
	}
	fmt.Printf("Exported %s to %s\n", price.CountLabel(snap.TotalItems), path)
}

func runExports(args []string) {
	fs := flag.NewFlagSet("exports", flag.ExitOnError)
	common := addCommonFlags(fs)
	fs.Parse(reorderArgs(args))

	sess := openSession(common)
	defer sess.close()

	recs, err := storage.ListExports(sess.db)
	if err != nil {
		fail(err)
	}
	if len(recs) == 0 {
		fmt.Println("No exports yet.")
		return
	}
	fmt.Printf("%-4s  %-19s  %6s  %12s  %s\n", "#", "Date", "Items", "Total", "Path")
	for _, r := range recs {
		fmt.Printf("%-4d  %-19s  %6d  %12s  %s\n",
			r.ID,
			r.ExportedAt.Local().Format("2006-01-02 15:04:05"),
			r.TotalItems,
			price.Format(r.TotalPrice, types.Currency(r.Currency)),
			r.Path,
		)
	}
}

func runExtract(args []string) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	pageURL := fs.String("url", "", "Page URL when reading a file")
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: unicart extract <url|file> [--url u]")
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fail(err)
	}

	src := fs.Arg(0)
	var raw []byte
	if extract.Fetchable(src) {
		ctx, cancel := context.WithTimeout(context.Background(), probe.DefaultStepTimeout)
		defer cancel()
		raw, err = extract.Fetch(ctx, src)
		if *pageURL == "" {
			*pageURL = src
		}
	} else {
		raw, err = os.ReadFile(src)
	}
	if err != nil {
		fail(err)
	}

	ext, err := extract.Page(raw, *pageURL, extract.Options{Readability: cfg.UseReadability()})
	if err != nil {
		fail(err)
	}
	if !ext.Success {
		fmt.Println("No product found.")
		os.Exit(1)
	}
	fmt.Printf("Name:  %s\n", ext.Name)
	fmt.Printf("Price: %s\n", price.Format(ext.Price, types.Currency(cfg.Currency)))
	if ext.Notes != "" {
		fmt.Printf("Notes: %s\n", ext.Notes)
	}
}

func runRefresh(args []string) {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	common := addCommonFlags(fs)
	live := fs.Bool("live", false, "Open pages in the browser through the extension")
	port := fs.Int("port", 0, "WebSocket port for --live")
	fs.Parse(reorderArgs(args))

	sess := openSession(common)
	defer sess.close()
	if *port != 0 {
		sess.cfg.Port = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		browser probe.Browser = probe.NewHTTPBrowser()
		srv     *server.Server
	)
	if *live {
		srv = server.New(sess.cfg.Port)
		go srv.ListenAndServe(ctx)
		if err := waitForExtension(ctx, srv, 30*time.Second); err != nil {
			fail(err)
		}
		browser = bridge.New(srv)
	}

	p := probe.New(browser)
	p.SettleDelay = sess.settle()
	if !*live {
		p.SettleDelay = 0
	}

	before := make(map[string]float64)
	for _, it := range sess.cart.Items() {
		before[it.ID] = it.Price
	}
	var n int
	if srv != nil {
		// The extension may send requests while its tabs are being driven.
		n = background.New(sess.cart).Refresh(ctx, srv, p)
	} else {
		n = sess.cart.RefreshPrices(ctx, p)
	}
	sess.checkSaved()

	cur := sess.cart.Currency()
	for _, it := range sess.cart.Items() {
		if old, ok := before[it.ID]; ok && old != it.Price {
			fmt.Printf("  %-40s %10s -> %s\n", it.Name, price.Format(old, cur), price.Format(it.Price, cur))
		}
	}
	fmt.Printf("Updated %s.\n", price.CountLabel(n))
}

// waitForExtension blocks until the extension connects to srv.
func waitForExtension(ctx context.Context, srv *server.Server, timeout time.Duration) error {
	fmt.Fprintf(os.Stderr, "Waiting for extension on port %d...\n", srv.Port())
	deadline := time.After(timeout)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for !srv.Connected() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("extension did not connect within %s", timeout)
		case <-tick.C:
		}
	}
	return nil
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	common := addCommonFlags(fs)
	port := fs.Int("port", 0, "WebSocket port")
	fs.Parse(reorderArgs(args))

	sess := openSession(common)
	defer sess.close()
	if *port != 0 {
		sess.cfg.Port = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(sess.cfg.Port)
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(ctx) }()

	fmt.Fprintf(os.Stderr, "Listening on 127.0.0.1:%d\n", sess.cfg.Port)
	d := background.New(sess.cart)
	go d.Run(ctx, srv)

	if err := <-errc; err != nil {
		fail(err)
	}
}
