package ai

import "strings"

// Extraction helpers for model replies. Models are asked for fenced code
// blocks but do not always comply, so each helper degrades through looser
// strategies before giving up.

// ExtractFencedBlock returns the first fenced code block, preferring one
// tagged with the given language marker.
func ExtractFencedBlock(reply string, lang string) string {
	if lang != "" {
		if block := fencedBlockAfter(reply, "```"+lang); block != "" {
			return block
		}
	}
	return fencedBlockAfter(reply, "```")
}

func fencedBlockAfter(reply string, fence string) string {
	start := strings.Index(reply, fence)
	if start == -1 {
		return ""
	}
	body := reply[start+len(fence):]
	end := strings.Index(body, "```")
	if end == -1 {
		return ""
	}
	block := body[:end]
	// Drop a leading language marker line left by a bare ``` fence.
	if newline := strings.Index(block, "\n"); newline != -1 {
		first := strings.TrimSpace(block[:newline])
		if first != "" && !strings.ContainsAny(first, " \t(") && len(first) <= 12 {
			block = block[newline+1:]
		}
	}
	return strings.TrimSpace(block)
}

// ExtractQuery pulls a SQL statement out of a model reply: a ```sql block,
// then any fenced block starting with SELECT or WITH, then the first line
// containing SELECT.
func ExtractQuery(reply string) string {
	if block := fencedBlockAfter(reply, "```sql"); block != "" {
		return block
	}
	if block := fencedBlockAfter(reply, "```"); block != "" {
		upper := strings.ToUpper(block)
		if strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH") {
			return block
		}
	}
	upper := strings.ToUpper(reply)
	if idx := strings.Index(upper, "SELECT"); idx != -1 {
		stmt := reply[idx:]
		if end := strings.Index(stmt, "\n"); end != -1 {
			stmt = stmt[:end]
		}
		return strings.TrimSpace(stmt)
	}
	return ""
}

// ExtractCode pulls a Lua fragment out of a model reply.
func ExtractCode(reply string) string {
	if block := ExtractFencedBlock(reply, "lua"); block != "" {
		return block
	}
	return strings.TrimSpace(reply)
}

// ExtractJSONObject returns the first balanced top-level JSON object in the
// reply, fence markers and prose stripped.
func ExtractJSONObject(reply string) string {
	start := strings.Index(reply, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(reply); i++ {
		ch := reply[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return reply[start : i+1]
			}
		}
	}
	return ""
}
