package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/comchain/service/amount"
	"github.com/brojonat/comchain/service/ledger"
	"github.com/itchyny/gojq"
)

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// compileJQ parses and compiles a jq filter.
func compileJQ(filter string) (*gojq.Code, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}
	return code, nil
}

// outputJQ runs code over the JSON form of v and writes one line per result.
func outputJQ(w io.Writer, code *gojq.Code, v interface{}) error {
	// gojq only understands the generic JSON types
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	var input interface{}
	if err := json.Unmarshal(raw, &input); err != nil {
		return fmt.Errorf("failed to unmarshal output: %w", err)
	}

	iter := code.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := result.(error); isErr {
			return fmt.Errorf("jq filter failed: %w", err)
		}
		line, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal jq result: %w", err)
		}
		fmt.Fprintln(w, string(line))
	}
}

// outputRecords writes records as JSON, through a jq filter, or as a table.
func outputRecords(w io.Writer, records []*ledger.Record, jsonOutput bool, jqFilter string) error {
	if records == nil {
		records = []*ledger.Record{}
	}
	if jqFilter != "" {
		code, err := compileJQ(jqFilter)
		if err != nil {
			return err
		}
		return outputJQ(w, code, records)
	}
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tACCOUNT\tLEG\tAMOUNT\tCOUNTERPARTY\tDESCRIPTION")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\t%s\t%s\n",
			r.Date.Format(time.RFC3339),
			r.Account,
			r.Leg,
			amount.Encode(r.Amount),
			r.Currency,
			counterparty(r),
			r.Description,
		)
	}
	return tw.Flush()
}

func counterparty(r *ledger.Record) string {
	if r.CounterpartyDisplay != "" {
		return r.CounterpartyDisplay
	}
	return r.CounterpartyAddress
}
