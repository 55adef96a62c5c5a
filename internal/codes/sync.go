package codes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SelectCodesEndpoint lists the gateway's code vocabularies.
const SelectCodesEndpoint = "/code/selectCodes"

// Caller issues a tenant-stamped gateway request and returns its data object.
type Caller interface {
	Call(ctx context.Context, endpoint string, fields map[string]any) (json.RawMessage, error)
}

type selectCodesData struct {
	Classes []struct {
		Name    string           `json:"cdClsNm"`
		Details []map[string]any `json:"dtlList"`
	} `json:"clsList"`
}

// SyncReport counts what a reference sync stored per category.
type SyncReport struct {
	Categories map[Category]int
	Skipped    []string
}

// Sync pulls the gateway code lists changed since `since`, translates them
// through table and saves them to store. A zero since is a full pull that
// replaces each category; otherwise changed codes are merged. The codebook is updated in place
// so a running worker picks the codes up without a restart. The
// submission log is never touched.
func Sync(ctx context.Context, caller Caller, table Table, cb *Codebook, store *Store, since time.Time) (SyncReport, error) {
	report := SyncReport{Categories: make(map[Category]int)}
	raw, err := caller.Call(ctx, SelectCodesEndpoint, map[string]any{
		"lastReqDt": since.UTC().Format("20060102150405"),
	})
	if err != nil {
		return report, fmt.Errorf("codes: sync: %w", err)
	}
	var data selectCodesData
	if err := json.Unmarshal(raw, &data); err != nil {
		return report, fmt.Errorf("codes: sync: decode code lists: %w", err)
	}

	collected := make(map[Category]map[string]string)
	for _, class := range data.Classes {
		category, ok := cb.CategoryFor(class.Name)
		if !ok {
			report.Skipped = append(report.Skipped, class.Name)
			continue
		}
		entries := collected[category]
		if entries == nil {
			entries = make(map[string]string)
			collected[category] = entries
		}
		for _, row := range class.Details {
			if _, ok := row["cdClsNm"]; !ok {
				row["cdClsNm"] = class.Name
			}
			rec, err := table.Translate(string(category), row)
			if err != nil {
				return report, err
			}
			code, label := rec.String("code"), rec.String("label")
			if code == "" || !rec.Bool("active") {
				continue
			}
			if label != "" {
				entries[label] = code
			}
			// A classified kind backs internal labels the codebook does not
			// know yet with the first gateway code of that kind.
			if kind := rec.String("kind"); kind != "" {
				_, taken := entries[kind]
				if _, err := cb.Lookup(category, kind); !taken && err != nil {
					entries[kind] = code
				}
			}
		}
	}

	save := store.Merge
	if since.IsZero() {
		save = store.Save
	}
	for category, entries := range collected {
		if err := save(ctx, category, entries); err != nil {
			return report, err
		}
		cb.Merge(category, entries)
		report.Categories[category] = len(entries)
	}
	return report, nil
}
