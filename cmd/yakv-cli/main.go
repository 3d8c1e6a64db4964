package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"yakv"
)

var (
	okColor  = color.New(color.FgGreen)
	errColor = color.New(color.FgRed)
	dimColor = color.New(color.FgHiBlack)
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	path := flag.String("file", "data.yakv", "database file path")
	pageSize := flag.Uint("page-size", yakv.DefaultPageSize, "page size in bytes, used only when creating a new file")
	flag.Parse()

	db, err := openOrCreate(*path, uint32(*pageSize))
	if err != nil {
		log.Fatalf("yakv-cli: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("yakv-cli: error closing database: %v", err)
		}
	}()

	repl(db)
}

func openOrCreate(path string, pageSize uint32) (*yakv.Db, error) {
	if _, err := os.Stat(path); err == nil {
		return yakv.Open(path, yakv.DefaultOptions())
	}
	opts := yakv.DefaultOptions()
	opts.PageSize = pageSize
	return yakv.Create(path, opts)
}

func printHelp() {
	fmt.Print(`
yakv CLI

Available Commands:
  SET <key> <value>  insert or overwrite a key
  GET <key>           look up a key
  DEL <key>           remove a key
  MIN                 smallest key and value
  MAX                 largest key and value
  ABOVE <key>         smallest key strictly greater than key
  BELOW <key>         largest key strictly less than key
  FLUSH               force a write-back and fsync
  VERIFY              walk the tree checking structural invariants
  STATS               entry count, height, page count, free count
  EXIT                terminate this session
`)
}

func printPrompt() {
	dimColor.Print("yakv> ")
}

func repl(db *yakv.Db) {
	printHelp()
	printPrompt()
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		process(db, scanner.Text())
		printPrompt()
	}
}

func process(db *yakv.Db, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch strings.ToUpper(fields[0]) {
	case "SET":
		cmdSet(db, fields[1:])
	case "GET":
		cmdGet(db, fields[1:])
	case "DEL":
		cmdDel(db, fields[1:])
	case "MIN":
		cmdEntry(db.Min())
	case "MAX":
		cmdEntry(db.Max())
	case "ABOVE":
		cmdNeighbor(db.Above, fields[1:], "ABOVE")
	case "BELOW":
		cmdNeighbor(db.Below, fields[1:], "BELOW")
	case "FLUSH":
		cmdFlush(db)
	case "VERIFY":
		cmdVerify(db)
	case "STATS":
		cmdStats(db)
	case "EXIT":
		os.Exit(0)
	default:
		errColor.Printf("unknown command %q\n", fields[0])
	}
}

func cmdSet(db *yakv.Db, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: SET <key> <value>")
		return
	}
	if err := db.Insert([]byte(args[0]), []byte(args[1])); err != nil {
		errColor.Println(err)
		return
	}
	okColor.Println("ok")
}

func cmdGet(db *yakv.Db, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: GET <key>")
		return
	}
	v, err := db.Lookup([]byte(args[0]))
	if err != nil {
		errColor.Println(err)
		return
	}
	fmt.Println(string(v))
}

func cmdDel(db *yakv.Db, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: DEL <key>")
		return
	}
	if err := db.Remove([]byte(args[0])); err != nil {
		errColor.Println(err)
		return
	}
	okColor.Println("ok")
}

func cmdEntry(key, value []byte, err error) {
	if err != nil {
		errColor.Println(err)
		return
	}
	fmt.Printf("%s = %s\n", key, value)
}

func cmdNeighbor(op func([]byte) ([]byte, []byte, error), args []string, name string) {
	if len(args) != 1 {
		fmt.Printf("usage: %s <key>\n", name)
		return
	}
	k, v, err := op([]byte(args[0]))
	cmdEntry(k, v, err)
}

func cmdFlush(db *yakv.Db) {
	if err := db.Flush(); err != nil {
		errColor.Println(err)
		return
	}
	okColor.Println("flushed")
}

func cmdVerify(db *yakv.Db) {
	if err := db.Verify(); err != nil {
		errColor.Println(err)
		return
	}
	okColor.Println("tree is consistent")
}

func cmdStats(db *yakv.Db) {
	stats, err := db.Stats()
	if err != nil {
		errColor.Println(err)
		return
	}
	fmt.Printf("entries=%s height=%s pages=%s free=%s\n",
		strconv.Itoa(stats.EntryCount),
		strconv.Itoa(stats.Height),
		strconv.Itoa(stats.PageCount),
		strconv.Itoa(stats.FreeCount))
}
