// Package profile derives a dataset profile (column shapes, baselines)
// from ingested rows. The profile is stored with the session and summarized
// into agent prompts.
package profile

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/insightx/insightx/internal/domain"
)

const topValueCount = 5

// Build profiles the given rows. Column order follows the input.
func Build(columns []string, rows []map[string]any) *domain.DatasetProfile {
	prof := &domain.DatasetProfile{
		TotalRows:    len(rows),
		TotalColumns: len(columns),
		Baselines: map[string]float64{
			"total_rows":    float64(len(rows)),
			"total_columns": float64(len(columns)),
		},
	}

	for _, col := range columns {
		cp := profileColumn(col, rows)
		if cp.Type == "numeric" && cp.Mean != nil {
			prof.Baselines["avg_"+col] = *cp.Mean
		}
		prof.Columns = append(prof.Columns, cp)
	}
	return prof
}

func profileColumn(name string, rows []map[string]any) domain.ColumnProfile {
	cp := domain.ColumnProfile{Name: name}

	var numbers []float64
	var texts []string
	nulls := 0
	unique := make(map[string]bool)

	for _, row := range rows {
		value := row[name]
		if value == nil {
			nulls++
			continue
		}
		unique[fmt.Sprintf("%v", value)] = true
		switch v := value.(type) {
		case int64:
			numbers = append(numbers, float64(v))
		case float64:
			numbers = append(numbers, v)
		case string:
			texts = append(texts, v)
		}
	}

	if len(rows) > 0 {
		cp.NullPct = float64(nulls) / float64(len(rows)) * 100
	}
	cp.UniqueCount = len(unique)

	switch {
	case len(numbers) > 0 && len(texts) == 0:
		cp.Type = "numeric"
		fillNumericStats(&cp, numbers)
	default:
		cp.Type = "categorical"
		cp.TopValues = topValues(texts)
	}
	return cp
}

func fillNumericStats(cp *domain.ColumnProfile, numbers []float64) {
	min, max := numbers[0], numbers[0]
	for _, n := range numbers[1:] {
		if n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	mean := stat.Mean(numbers, nil)
	cp.Min, cp.Max, cp.Mean = &min, &max, &mean
	if len(numbers) >= 2 {
		std := stat.StdDev(numbers, nil)
		cp.Std = &std
	}
}

func topValues(texts []string) map[string]int {
	if len(texts) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, t := range texts {
		counts[t]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > topValueCount {
		keys = keys[:topValueCount]
	}
	top := make(map[string]int, len(keys))
	for _, k := range keys {
		top[k] = counts[k]
	}
	return top
}

// Summarize renders a compact schema description for agent prompts.
func Summarize(profile *domain.DatasetProfile) string {
	if profile == nil {
		return "schema unknown"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d rows, %d columns\n", profile.TotalRows, profile.TotalColumns)
	for _, col := range profile.Columns {
		fmt.Fprintf(&b, "- %s (%s", col.Name, col.Type)
		if col.Type == "numeric" && col.Min != nil && col.Max != nil {
			fmt.Fprintf(&b, ", range %.4g..%.4g", *col.Min, *col.Max)
		}
		if col.NullPct > 0 {
			fmt.Fprintf(&b, ", %.1f%% null", col.NullPct)
		}
		b.WriteString(")\n")
	}
	return strings.TrimSpace(b.String())
}
