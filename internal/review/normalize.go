package review

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/landscaper/internal/model"
)

// Normalize turns a document's records into inserts for the normalized
// tables. Rows are ordered so that referenced rows come first: tenants,
// units, leases, then line items or parcels, then the per-field evidence in
// committed_values and the document_commits audit row.
func Normalize(doc *model.Document, records []model.ExtractedRecord, now time.Time) []model.TableRow {
	var rows []model.TableRow
	switch doc.DocType {
	case model.DocTypeRentRoll:
		rows = rentRollRows(doc.ID, records)
	case model.DocTypeOperatingStatement:
		for _, r := range records {
			rows = append(rows, row("operating_line_items",
				"id", uuid.NewString(),
				"document_id", doc.ID,
				"line_item", textOr(&r, "line_item", fmt.Sprintf("line %d", r.RowIndex+1)),
				"category", text(&r, "category"),
				"amount", number(&r, "amount"),
				"per_unit", number(&r, "per_unit"),
				"percent_of_egi", number(&r, "percent_of_egi"),
				"period", text(&r, "period"),
			))
		}
	case model.DocTypeParcelTable:
		for _, r := range records {
			rows = append(rows, row("parcels",
				"id", uuid.NewString(),
				"document_id", doc.ID,
				"parcel_id", textOr(&r, "parcel_id", fmt.Sprintf("row %d", r.RowIndex+1)),
				"land_use", text(&r, "land_use"),
				"acres_gross", number(&r, "acres_gross"),
				"acres_net", number(&r, "acres_net"),
				"units", number(&r, "units"),
				"density", number(&r, "density"),
				"zoning", text(&r, "zoning"),
				"owner", text(&r, "owner"),
			))
		}
	}

	for _, r := range records {
		rows = append(rows, evidenceRows(doc.ID, r)...)
	}
	rows = append(rows, row("document_commits",
		"id", uuid.NewString(),
		"document_id", doc.ID,
		"record_count", len(records),
		"committed_at", now,
	))
	return rows
}

// rentRollRows emits tenants, units and leases. A tenant leasing several
// units is written once.
func rentRollRows(docID string, records []model.ExtractedRecord) []model.TableRow {
	var tenants, units, leases []model.TableRow
	tenantIDs := map[string]string{}
	for _, r := range records {
		var tenantID any
		if name, ok := r.String("tenant_name"); ok && !isVacant(name) {
			key := strings.ToLower(strings.Join(strings.Fields(name), " "))
			id, seen := tenantIDs[key]
			if !seen {
				id = uuid.NewString()
				tenantIDs[key] = id
				tenants = append(tenants, row("tenants", "id", id, "document_id", docID, "name", strings.TrimSpace(name)))
			}
			tenantID = id
		}

		unitID := uuid.NewString()
		units = append(units, row("units",
			"id", unitID,
			"document_id", docID,
			"unit_number", textOr(&r, "unit_number", fmt.Sprintf("row %d", r.RowIndex+1)),
			"unit_type", text(&r, "unit_type"),
			"square_feet", number(&r, "square_feet"),
			"market_rent", number(&r, "market_rent"),
			"occupancy_status", text(&r, "occupancy_status"),
		))

		if tenantID == nil && !r.Get("current_rent").Found() {
			continue
		}
		leases = append(leases, row("leases",
			"id", uuid.NewString(),
			"document_id", docID,
			"unit_id", unitID,
			"tenant_id", tenantID,
			"current_rent", number(&r, "current_rent"),
			"lease_start", date(&r, "lease_start"),
			"lease_end", date(&r, "lease_end"),
			"security_deposit", number(&r, "security_deposit"),
		))
	}
	return append(append(tenants, units...), leases...)
}

// evidenceRows keeps every found value with its confidence and source so no
// evidence is lost when records become table rows.
func evidenceRows(docID string, r model.ExtractedRecord) []model.TableRow {
	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []model.TableRow
	for _, name := range names {
		fv := r.Fields[name]
		if fv.Value == nil {
			continue
		}
		var page any
		if fv.SourcePage > 0 {
			page = fv.SourcePage
		}
		out = append(out, row("committed_values",
			"id", uuid.NewString(),
			"document_id", docID,
			"record_id", r.ID,
			"field_path", name,
			"value", render(fv.Value),
			"confidence", fv.Confidence,
			"source_page", page,
			"source_quote", fv.SourceQuote,
			"corrected", fv.Corrected,
		))
	}
	return out
}

func row(table string, kv ...any) model.TableRow {
	r := model.TableRow{Table: table}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Columns = append(r.Columns, kv[i].(string))
		r.Values = append(r.Values, kv[i+1])
	}
	return r
}

func text(r *model.ExtractedRecord, name string) any {
	fv := r.Get(name)
	if !fv.Found() {
		return nil
	}
	return render(fv.Value)
}

func textOr(r *model.ExtractedRecord, name, fallback string) string {
	if s, ok := text(r, name).(string); ok && s != "" {
		return s
	}
	return fallback
}

func number(r *model.ExtractedRecord, name string) any {
	if f, ok := r.Float(name); ok {
		return f
	}
	return nil
}

func date(r *model.ExtractedRecord, name string) any {
	s, ok := r.String(name)
	if !ok {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return t
}

func render(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func isVacant(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "vacant", "vacancy", "model", "down", "":
		return true
	}
	return false
}
