package search

import (
	"bufio"
	"bytes"
	"strings"
)

// flattenTables rewrites Markdown table rows as standalone one-line facts so
// paragraph splitting and token matching work on tabular content. Separator
// rows (| --- | --- |) and bare header cells are dropped. Input without any
// table rows passes through unchanged.
func flattenTables(raw []byte) []byte {
	if !bytes.Contains(raw, []byte("|")) {
		return raw
	}

	var b strings.Builder
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	sawTable := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			b.WriteByte('\n')
			continue
		}
		if !strings.HasPrefix(line, "|") || !strings.HasSuffix(line, "|") {
			b.WriteString(line)
			b.WriteByte('\n')
			continue
		}

		sawTable = true
		cells := strings.Split(strings.Trim(line, "|"), "|")
		kept := make([]string, 0, len(cells))
		allSep := true
		for _, c := range cells {
			cell := strings.TrimSpace(c)
			if cell != "" {
				kept = append(kept, cell)
			}
			if strings.Trim(cell, ":-") != "" {
				allSep = false
			}
		}
		if allSep || len(kept) == 0 {
			continue
		}
		b.WriteString(strings.Join(kept, " "))
		b.WriteString("\n\n")
	}
	if !sawTable {
		return raw
	}
	return []byte(b.String())
}
