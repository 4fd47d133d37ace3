package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

// Offline inspector for the message log. Point it at a data directory and
// a key prefix, it renders whatever lives there. The server must be
// stopped first, Badger holds an exclusive lock.
func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	prefix := flag.String("prefix", "msg:", "Prefix to scan (msg:, dlv:, conv:, user:, seq:)")
	limit := flag.Int("limit", 200, "Maximum rows to print")
	flag.Parse()

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLoggingLevel(badger.ERROR))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	header := fmt.Sprintf(" Scanning %q in %s ", *prefix, *dbPath)
	fmt.Println(color.New(color.BgBlack, color.FgGreen).Render(header))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	count := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes) && count < *limit; it.Next() {
			item := it.Item()
			key := string(item.Key())

			err := item.Value(func(v []byte) error {
				table.Append([]string{key, describe(key, v)})
				count++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	fmt.Printf("%d rows\n", count)
}

type messageRow struct {
	Sender string `json:"sender"`
	Seq    uint64 `json:"seq"`
	Body   string `json:"body"`
	Lang   string `json:"lang"`
	At     int64  `json:"at"`
}

type deliveryRow struct {
	MessageID string `json:"message_id"`
	Seq       uint64 `json:"seq"`
	At        int64  `json:"at"`
}

func describe(key string, v []byte) string {
	switch {
	case strings.HasPrefix(key, "msg:"):
		var m messageRow
		if err := json.Unmarshal(v, &m); err != nil {
			return "Error: unmarshal failed"
		}
		return fmt.Sprintf("[%d] %s (%s) %s: %s",
			m.Seq, time.Unix(0, m.At).Format("15:04:05"), m.Lang, m.Sender, truncate(m.Body, 60))
	case strings.HasPrefix(key, "dlv:"):
		var d deliveryRow
		if err := json.Unmarshal(v, &d); err != nil {
			return "Error: unmarshal failed"
		}
		return fmt.Sprintf("pending seq %d message %s since %s",
			d.Seq, d.MessageID, time.Unix(0, d.At).Format("15:04:05"))
	case strings.HasPrefix(key, "seq:"):
		return fmt.Sprintf("counter bytes %x", v)
	default:
		return truncate(string(v), 80)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
