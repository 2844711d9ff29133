// Package export writes account reports to CSV and PNG and ships them to S3.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"staking-reward-report/internal/domain"
)

const defaultExplorerURL = "https://polkadot.subscan.io"

var wholeNumber = regexp.MustCompile(`^-?\d+$`)

// CSVOptions parameterise the per-account CSV writer.
type CSVOptions struct {
	Dir            string
	ExplorerURL    string
	Symbol         string
	PriceCurrency  string
	VolumeCurrency string
}

// CSVWriter renders one spreadsheet-friendly CSV per account.
type CSVWriter struct {
	opts   CSVOptions
	logger zerolog.Logger
}

// NewCSVWriter constructs a CSV writer.
func NewCSVWriter(opts CSVOptions, logger zerolog.Logger) *CSVWriter {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	opts.ExplorerURL = strings.TrimRight(opts.ExplorerURL, "/")
	if opts.ExplorerURL == "" {
		opts.ExplorerURL = defaultExplorerURL
	}
	if opts.Symbol == "" {
		opts.Symbol = "DOT"
	}
	return &CSVWriter{opts: opts, logger: logger.With().Str("component", "csv_writer").Logger()}
}

// FileName returns "<abbrev>-<address>.csv". The abbreviation keeps whole
// numbers and the first letter of every other word: "Big Bag Stash 223" is "BBS223".
func FileName(account domain.Account) string {
	var abbrev strings.Builder
	for _, word := range strings.Fields(account.Name) {
		if wholeNumber.MatchString(word) {
			abbrev.WriteString(word)
			continue
		}
		r := []rune(word)
		abbrev.WriteRune(r[0])
	}
	return abbrev.String() + "-" + account.Address + ".csv"
}

// Write renders rep and returns the written path. Invalid events are skipped.
func (w *CSVWriter) Write(rep domain.AccountReport) (path string, err error) {
	if err := os.MkdirAll(w.opts.Dir, 0o755); err != nil {
		return "", err
	}
	path = filepath.Join(w.opts.Dir, FileName(rep.Account))

	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	writer := csv.NewWriter(file)
	writer.UseCRLF = true

	for _, record := range w.records(rep) {
		if err := writer.Write(record); err != nil {
			return "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}

	w.logger.Info().Str("address", rep.Account.Address).Str("path", path).Int("rows", len(rep.Valid())).Msg("csv written")
	return path, nil
}

func (w *CSVWriter) records(rep domain.AccountReport) [][]string {
	acc := rep.Account
	records := [][]string{
		{"Address:", textCell(acc.Address)},
		{"Name:", textCell(acc.Name)},
		{"Role:", acc.Role.Title()},
		nil,
	}

	if rep.Nominations == nil && rep.NominationsErr != nil {
		records = append(records,
			[]string{"Nominating:"},
			[]string{"Unavailable", textCell(rep.NominationsErr.Error())},
			nil,
		)
	}

	if rep.Nominations != nil {
		records = append(records,
			[]string{"Nominating:"},
			[]string{"Nominating Since (Era)", "Name / Identity", "Address"},
		)
		for _, target := range rep.Nominations.Targets {
			records = append(records, []string{
				strconv.FormatUint(uint64(rep.Nominations.Era), 10),
				textCell(target.Identity),
				hyperlink(w.opts.ExplorerURL+"/account/"+target.Address, target.Address),
			})
		}
		records = append(records, nil)
	}

	records = append(records, []string{
		"Date",
		"Block Number",
		"Extrinsic Event",
		"Block Timestamp",
		fmt.Sprintf("Reward Amount (%s)", w.opts.Symbol),
		fmt.Sprintf("Price (%s)", strings.ToUpper(w.opts.PriceCurrency)),
		fmt.Sprintf("Volume (%s)", strings.ToUpper(w.opts.VolumeCurrency)),
		"Balance at Block",
		"Bonded at Block",
	})

	for _, ev := range rep.Valid() {
		block := strconv.FormatUint(ev.BlockNum, 10)
		ref := ev.EventRef()
		records = append(records, []string{
			FormatDate(ev.BlockTimestamp),
			hyperlink(w.opts.ExplorerURL+"/block/"+block, block),
			hyperlink(w.opts.ExplorerURL+"/extrinsic/"+ev.ExtrinsicHash+"?event="+ref, ref),
			strconv.FormatInt(ev.BlockTimestamp, 10),
			ev.Reward.String(),
			ev.Price.String(),
			ev.Volume.String(),
			ev.Snapshot.Free.String(),
			ev.Snapshot.Bonded.String(),
		})
	}
	return records
}

// FormatDate renders a unix timestamp as the en-GB day "dd/mm/yyyy" in UTC.
func FormatDate(sec int64) string {
	return time.Unix(sec, 0).UTC().Format("02/01/2006")
}

// hyperlink builds a spreadsheet link formula. Quotes inside the arguments
// are doubled so they stay inside the string literals.
func hyperlink(url, label string) string {
	return fmt.Sprintf(`=HYPERLINK("%s", "%s")`, formulaQuote.Replace(url), formulaQuote.Replace(label))
}

var formulaQuote = strings.NewReplacer(`"`, `""`)

// textCell keeps free text such as on-chain display names from being
// evaluated as a formula when the file is opened in a spreadsheet.
func textCell(value string) string {
	if value == "" {
		return value
	}
	switch value[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + value
	}
	return value
}
