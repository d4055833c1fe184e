// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package format

import (
	"strconv"
	"strings"
)

// Default is the built-in formatter for anonymous submission forms.
//
// Rows are expected to look like
//
//	timestamp, text[, department[, year]]
//
// The optional cells become hashtags under the text.
type Default struct {
	// Title prefixes the sequence number in the heading, like "#Confession".
	Title string
	// Footer is appended as the last line, usually a link to the form.
	Footer string
	// Limit is the maximum message length. Zero means DefaultLimit.
	Limit int
}

var _ Formatter = (*Default)(nil)

// Format implements [Formatter].
func (d *Default) Format(row Row, seq int) (string, error) {
	if err := row.Require(2); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(">>> __*")
	sb.WriteString(d.Title)
	sb.WriteString(strconv.Itoa(seq))
	sb.WriteString("*__\n*")
	sb.WriteString(row.Cell(1))
	sb.WriteString("*")

	var tags []string
	if dept := strings.TrimSpace(row.Cell(2)); dept != "" {
		tags = append(tags, "__#"+hashtag(dept)+"__")
	}
	if year := strings.TrimSpace(row.Cell(3)); year != "" {
		tags = append(tags, "#"+hashtag(year))
	}
	if len(tags) > 0 {
		sb.WriteString("\n")
		sb.WriteString(strings.Join(tags, " "))
	}

	if d.Footer != "" {
		sb.WriteString("\n")
		sb.WriteString(d.Footer)
	}

	return Fit(sb.String(), d.Limit), nil
}

// Random implements [Formatter]. It prints every non-empty cell after the
// timestamp on its own line.
func (d *Default) Random(row Row) (string, error) {
	if err := row.Require(2); err != nil {
		return "", err
	}
	var lines []string
	for _, cell := range row[1:] {
		if cell = strings.TrimSpace(cell); cell != "" {
			lines = append(lines, cell)
		}
	}
	if len(lines) == 0 {
		return "", Skip(errEmptyRow)
	}
	return Fit(strings.Join(lines, "\n"), d.Limit), nil
}

// hashtag makes s usable as a single hashtag.
func hashtag(s string) string {
	return strings.Join(strings.Fields(s), "_")
}
