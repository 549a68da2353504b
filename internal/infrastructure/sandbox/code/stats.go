package code

import (
	"sort"

	lua "github.com/yuin/gopher-lua"
	"gonum.org/v1/gonum/stat"
)

// statsModule builds the injected `stats` binding: a fixed table of
// gonum-backed numeric helpers. Fragments cannot reach gonum itself, only
// these functions.
func statsModule(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"mean":        statsMean,
		"median":      statsMedian,
		"stddev":      statsStdDev,
		"variance":    statsVariance,
		"quantile":    statsQuantile,
		"zscores":     statsZScores,
		"correlation": statsCorrelation,
	})
	return mod
}

// checkNumbers reads a Lua sequence argument into a float slice, skipping
// non-numeric entries.
func checkNumbers(L *lua.LState, pos int) []float64 {
	tbl := L.CheckTable(pos)
	xs := make([]float64, 0, tbl.Len())
	tbl.ForEach(func(_, value lua.LValue) {
		if n, ok := value.(lua.LNumber); ok {
			xs = append(xs, float64(n))
		}
	})
	return xs
}

func statsMean(L *lua.LState) int {
	xs := checkNumbers(L, 1)
	if len(xs) == 0 {
		L.Push(lua.LNumber(0))
		return 1
	}
	L.Push(lua.LNumber(stat.Mean(xs, nil)))
	return 1
}

func statsMedian(L *lua.LState) int {
	return pushQuantile(L, checkNumbers(L, 1), 0.5)
}

func statsStdDev(L *lua.LState) int {
	xs := checkNumbers(L, 1)
	if len(xs) < 2 {
		L.Push(lua.LNumber(0))
		return 1
	}
	L.Push(lua.LNumber(stat.StdDev(xs, nil)))
	return 1
}

func statsVariance(L *lua.LState) int {
	xs := checkNumbers(L, 1)
	if len(xs) < 2 {
		L.Push(lua.LNumber(0))
		return 1
	}
	L.Push(lua.LNumber(stat.Variance(xs, nil)))
	return 1
}

func statsQuantile(L *lua.LState) int {
	xs := checkNumbers(L, 1)
	p := float64(L.CheckNumber(2))
	if p < 0 || p > 1 {
		L.RaiseError("quantile p must be in [0, 1], got %v", p)
	}
	return pushQuantile(L, xs, p)
}

func pushQuantile(L *lua.LState, xs []float64, p float64) int {
	if len(xs) == 0 {
		L.Push(lua.LNumber(0))
		return 1
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	L.Push(lua.LNumber(stat.Quantile(p, stat.Empirical, sorted, nil)))
	return 1
}

func statsZScores(L *lua.LState) int {
	xs := checkNumbers(L, 1)
	out := L.NewTable()
	if len(xs) >= 2 {
		mean, std := stat.MeanStdDev(xs, nil)
		for _, x := range xs {
			if std == 0 {
				out.Append(lua.LNumber(0))
				continue
			}
			out.Append(lua.LNumber((x - mean) / std))
		}
	}
	L.Push(out)
	return 1
}

func statsCorrelation(L *lua.LState) int {
	xs := checkNumbers(L, 1)
	ys := checkNumbers(L, 2)
	if len(xs) != len(ys) {
		L.RaiseError("correlation needs sequences of equal length (%d vs %d)", len(xs), len(ys))
	}
	if len(xs) < 2 {
		L.Push(lua.LNumber(0))
		return 1
	}
	L.Push(lua.LNumber(stat.Correlation(xs, ys, nil)))
	return 1
}
