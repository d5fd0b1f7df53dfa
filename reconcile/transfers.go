package reconcile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/songcast/songcast_backend/utils"
)

// Transfer is one token transfer event from a block explorer export.
type Transfer struct {
	TxHash      string
	BlockNumber uint64
	From        string
	To          string
	TokenId     string
	Amount      decimal.Decimal
}

func (t Transfer) IsMint() bool { return t.From == ZeroAddress }

// TransferLog is a parsed export plus the rows that had to be dropped.
type TransferLog struct {
	Source    string
	Transfers []Transfer
	// Skipped counts malformed data rows; SkippedLines holds their 1-based line numbers.
	Skipped      int
	SkippedLines []int
}

var headerAliases = map[string]string{
	"tx_hash":      "tx_hash",
	"txhash":       "tx_hash",
	"hash":         "tx_hash",
	"transaction":  "tx_hash",
	"block_number": "block_number",
	"blocknumber":  "block_number",
	"blockno":      "block_number",
	"block":        "block_number",
	"from":         "from",
	"to":           "to",
	"token_id":     "token_id",
	"tokenid":      "token_id",
	"amount":       "amount",
	"value":        "amount",
	"tokenvalue":   "amount",
	"quantity":     "amount",
}

var requiredColumns = []string{"from", "to", "amount"}

// LoadTransferLog reads a CSV transfer export. A missing or unreadable file is fatal
// and the error names path; malformed rows are skipped and counted.
func LoadTransferLog(path string) (TransferLog, error) {
	f, err := os.Open(path)
	if err != nil {
		return TransferLog{}, fmt.Errorf("open transfer log %s: %w", path, err)
	}
	defer f.Close()
	log, err := ParseTransferLog(f)
	if err != nil {
		return TransferLog{}, fmt.Errorf("transfer log %s: %w", path, err)
	}
	log.Source = path
	return log, nil
}

func ParseTransferLog(r io.Reader) (TransferLog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return TransferLog{}, errors.New("empty file, header row expected")
	}
	if err != nil {
		return TransferLog{}, err
	}

	columns := map[string]int{}
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		key = strings.ReplaceAll(key, " ", "_")
		if canonical, ok := headerAliases[key]; ok {
			if _, dup := columns[canonical]; !dup {
				columns[canonical] = i
			}
		}
	}
	for _, c := range requiredColumns {
		if _, ok := columns[c]; !ok {
			return TransferLog{}, fmt.Errorf("missing %q column in header %v", c, header)
		}
	}

	out := TransferLog{Transfers: []Transfer{}}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			// quoting errors leave the reader usable for the next record
			out.skip(line)
			continue
		}
		if len(record) != len(header) {
			out.skip(line)
			continue
		}
		t, ok := parseTransfer(record, columns)
		if !ok {
			out.skip(line)
			continue
		}
		out.Transfers = append(out.Transfers, t)
	}
	return out, nil
}

func (l *TransferLog) skip(line int) {
	l.Skipped++
	l.SkippedLines = append(l.SkippedLines, line)
}

func parseTransfer(record []string, columns map[string]int) (Transfer, bool) {
	field := func(name string) string {
		i, ok := columns[name]
		if !ok {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	from, ok := NormalizeAddress(field("from"))
	if !ok {
		return Transfer{}, false
	}
	to, ok := NormalizeAddress(field("to"))
	if !ok {
		return Transfer{}, false
	}
	amount, err := utils.ParseDecimal(strings.ReplaceAll(field("amount"), ",", ""))
	if err != nil || amount.IsNegative() {
		return Transfer{}, false
	}
	t := Transfer{
		TxHash:  strings.ToLower(field("tx_hash")),
		From:    from,
		To:      to,
		TokenId: field("token_id"),
		Amount:  amount,
	}
	if b := field("block_number"); b != "" {
		n, err := strconv.ParseUint(b, 10, 64)
		if err != nil {
			return Transfer{}, false
		}
		t.BlockNumber = n
	}
	return t, true
}
