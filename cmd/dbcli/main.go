// Command dbcli is an interactive client for talking to a running
// dbserver over the binary protocol (spec §4.L).
//
// Commands (in REPL):
//
//	use <db>                 Switch the active database
//	get <key>                Fetch a value
//	put <key> <value>        Store a value (OVERWRITE mode)
//	del <key>                Delete a key
//	head <key>               Fetch version/size without the value
//	next [id] [n]            Scan up to n records starting at cursor id
//	help                     Show this help
//	exit / quit / q          Exit
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/peterh/liner"

	"github.com/aurorakv/recdb/internal/dbclient"
	"github.com/aurorakv/recdb/internal/kvdb"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dbcli: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "127.0.0.1:7070", "dbserver binary protocol address")
	db := flag.String("db", "", "database to USE on connect")
	flag.Parse()

	cl, err := dbclient.New(dbclient.Config{Addr: *addr, Database: *db})
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer cl.Close()

	repl := &REPL{client: cl, addr: *addr, db: *db}
	return repl.Run()
}

// REPL is the interactive command loop, in the style of the reference
// corpus's liner-based CLIs.
type REPL struct {
	client *dbclient.Client
	addr   string
	db     string
	liner  *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".dbcli_history")
}

func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("dbcli - connected to %s (db=%q)\n", r.addr, r.db)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt(r.prompt())
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()
			return nil
		case "help", "?":
			r.printHelp()
		case "use":
			r.cmdUse(args)
		case "get":
			r.cmdGet(args)
		case "put":
			r.cmdPut(args)
		case "del", "delete":
			r.cmdDelete(args)
		case "head":
			r.cmdHead(args)
		case "next":
			r.cmdNext(args)
		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()
	return nil
}

// prompt right-pads on runewidth so a UTF-8 database name doesn't skew
// the cursor column in terminals that measure width by rune.
func (r *REPL) prompt() string {
	label := r.db
	if label == "" {
		label = "(none)"
	}
	return fmt.Sprintf("dbcli[%s]> ", runewidth.Truncate(label, 24, "..."))
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{"use", "get", "put", "del", "delete", "help", "exit", "quit", "q"}
	var out []string
	lower := strings.ToLower(line)
	for _, c := range commands {
		if strings.HasPrefix(c, lower) {
			out = append(out, c)
		}
	}
	return out
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  use <db>            Switch the active database")
	fmt.Println("  get <key>           Fetch a value")
	fmt.Println("  put <key> <value>   Store a value (OVERWRITE mode)")
	fmt.Println("  del <key>           Delete a key")
	fmt.Println("  head <key>          Fetch version/size without the value")
	fmt.Println("  next [id] [n]       Scan up to n records starting at cursor id")
	fmt.Println("  help                Show this help")
	fmt.Println("  exit / quit / q     Exit")
}

func (r *REPL) cmdUse(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: use <db>")
		return
	}
	name := args[0]
	if err := r.client.Use(name); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	r.db = name
	fmt.Printf("OK: using %q\n", name)
}

func (r *REPL) cmdGet(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: get <key>")
		return
	}
	out, err := r.client.Get([][]byte{[]byte(args[0])})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	value, ok := out[args[0]]
	if !ok {
		fmt.Println("(not found)")
		return
	}
	fmt.Printf("%s\n", value)
}

func (r *REPL) cmdPut(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: put <key> <value>")
		return
	}
	key := args[0]
	value := strings.Join(args[1:], " ")
	outcome, err := r.client.Put([]byte(key), []byte(value), 0, kvdb.ModeOverwrite)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("OK: %s\n", outcome)
}

func (r *REPL) cmdDelete(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: del <key>")
		return
	}
	if err := r.client.Delete([]byte(args[0])); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("OK: deleted")
}

func (r *REPL) cmdHead(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: head <key>")
		return
	}
	out, err := r.client.Head([][]byte{[]byte(args[0])})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	info, ok := out[args[0]]
	if !ok {
		fmt.Println("(not found)")
		return
	}
	fmt.Printf("version=%d size=%d\n", info.Version, info.VSize)
}

func (r *REPL) cmdNext(args []string) {
	var id int64
	n := 20
	if len(args) > 0 {
		fmt.Sscanf(args[0], "%d", &id)
	}
	if len(args) > 1 {
		fmt.Sscanf(args[1], "%d", &n)
	}
	recs, cursor, done, err := r.client.Next(kvdb.Cursor{Offset: id}, n)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	for _, rec := range recs {
		fmt.Printf("%s = %s (v%d)\n", rec.Key, rec.Value, rec.Version)
	}
	fmt.Printf("next id=%d done=%v\n", cursor.Offset, done)
}
