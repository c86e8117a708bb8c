// Package parser drives a Layout against a source document page by page,
// producing a single merged root DAO.
package parser

import (
	"bufio"
	"bytes"
	"strings"
)

const formFeed = 0x0C

// SplitPages splits a document into pages on the ASCII form-feed byte.
func SplitPages(doc []byte) [][]byte {
	return bytes.Split(doc, []byte{formFeed})
}

// SplitRows splits a single page into rows on LF or CRLF, reusing a
// bufio.Scanner over an in-memory page rather than streaming the whole
// document.
func SplitRows(page []byte) []string {
	var rows []string
	scanner := bufio.NewScanner(bytes.NewReader(page))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		rows = append(rows, strings.TrimRight(scanner.Text(), "\r"))
	}
	return rows
}
