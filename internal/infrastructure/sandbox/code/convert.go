package code

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/insightx/insightx/internal/domain"
)

// tableToLua builds the injected `rows` and `columns` bindings.
func tableToLua(L *lua.LState, input domain.Table) (*lua.LTable, *lua.LTable) {
	rows := L.NewTable()
	for _, row := range input.Rows {
		entry := L.NewTable()
		for _, col := range input.Columns {
			entry.RawSetString(col, goToLua(L, row[col]))
		}
		rows.Append(entry)
	}
	columns := L.NewTable()
	for _, col := range input.Columns {
		columns.Append(lua.LString(col))
	}
	return rows, columns
}

func goToLua(L *lua.LState, value any) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []byte:
		return lua.LString(v)
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}

// luaToGo converts a worker value to a plain Go value. Executable or opaque
// values (functions, userdata, channels) fail conversion: the worker's
// output must be a plain structured mapping.
func luaToGo(value lua.LValue) (any, error) {
	switch v := value.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LNumber:
		return float64(v), nil
	case lua.LString:
		return string(v), nil
	case *lua.LTable:
		return luaTableToGo(v)
	default:
		return nil, fmt.Errorf("value of type %s is not plain data", value.Type())
	}
}

func luaTableToGo(tbl *lua.LTable) (any, error) {
	arrayLen := tbl.Len()
	total := 0
	var convErr error
	object := make(map[string]any)

	tbl.ForEach(func(key, value lua.LValue) {
		if convErr != nil {
			return
		}
		total++
		converted, err := luaToGo(value)
		if err != nil {
			convErr = err
			return
		}
		switch k := key.(type) {
		case lua.LNumber:
			object[k.String()] = converted
		case lua.LString:
			object[string(k)] = converted
		default:
			convErr = fmt.Errorf("table key of type %s is not plain data", key.Type())
		}
	})
	if convErr != nil {
		return nil, convErr
	}

	// A pure sequence becomes a slice; anything else stays a mapping.
	if arrayLen > 0 && arrayLen == total {
		list := make([]any, 0, arrayLen)
		for i := 1; i <= arrayLen; i++ {
			converted, err := luaToGo(tbl.RawGetInt(i))
			if err != nil {
				return nil, err
			}
			list = append(list, converted)
		}
		return list, nil
	}
	return object, nil
}

// resultToMap enforces the worker output contract: the global `result` must
// be a table convertible to a plain mapping.
func resultToMap(value lua.LValue) (map[string]any, error) {
	tbl, ok := value.(*lua.LTable)
	if !ok {
		return nil, domain.NewError(domain.ErrInvalidResult,
			"worker must assign a table to the global 'result', got %s", value.Type())
	}
	converted, err := luaTableToGo(tbl)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidResult, err, "result is not plain data")
	}
	mapping, ok := converted.(map[string]any)
	if !ok {
		// A bare sequence still counts as structured output; wrap it.
		return map[string]any{"values": converted}, nil
	}
	return mapping, nil
}
