package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SelectionKind tags a PageSelection.
type SelectionKind int

const (
	SelectAll SelectionKind = iota
	SelectList
	SelectRange
	SelectSingle
)

func (k SelectionKind) String() string {
	switch k {
	case SelectAll:
		return "all"
	case SelectList:
		return "list"
	case SelectRange:
		return "range"
	case SelectSingle:
		return "single"
	default:
		return "unknown"
	}
}

// PageSelection is the parsed form of a pages parameter. It is built once by
// ParseSelection and is immutable afterwards.
//
// Exactly one shape is meaningful per Kind:
//   - SelectAll: no fields
//   - SelectList: Pages, ascending and free of duplicates
//   - SelectRange: Start..End inclusive, or Start..last page when OpenEnd
//   - SelectSingle: Start
type PageSelection struct {
	Kind    SelectionKind
	Pages   []int
	Start   int
	End     int
	OpenEnd bool
	raw     string
}

// String returns the selection as the caller wrote it.
func (s PageSelection) String() string {
	if s.raw == "" {
		return "all"
	}
	return s.raw
}

// ParseSelection parses "all", "4", "2-5", "3-end" and comma-separated
// lists whose items are pages or closed ranges ("1,3-5,9").
func ParseSelection(input string) (PageSelection, error) {
	raw := strings.TrimSpace(input)
	if raw == "" || strings.EqualFold(raw, "all") {
		return PageSelection{Kind: SelectAll, raw: "all"}, nil
	}

	if strings.Contains(raw, ",") {
		return parseList(raw)
	}

	if strings.Contains(raw, "-") {
		start, end, open, err := parseRange(raw, raw)
		if err != nil {
			return PageSelection{}, err
		}
		return PageSelection{Kind: SelectRange, Start: start, End: end, OpenEnd: open, raw: raw}, nil
	}

	page, err := parsePage(raw, raw)
	if err != nil {
		return PageSelection{}, err
	}
	return PageSelection{Kind: SelectSingle, Start: page, End: page, raw: raw}, nil
}

func parseList(raw string) (PageSelection, error) {
	seen := make(map[int]bool)
	var pages []int

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			return PageSelection{}, &SelectionError{Input: raw, Reason: "empty list item"}
		}

		if strings.Contains(item, "-") {
			start, end, open, err := parseRange(raw, item)
			if err != nil {
				return PageSelection{}, err
			}
			if open {
				return PageSelection{}, &SelectionError{Input: raw, Reason: "open range is not allowed inside a list"}
			}
			for p := start; p <= end; p++ {
				if !seen[p] {
					seen[p] = true
					pages = append(pages, p)
				}
			}
			continue
		}

		p, err := parsePage(raw, item)
		if err != nil {
			return PageSelection{}, err
		}
		if !seen[p] {
			seen[p] = true
			pages = append(pages, p)
		}
	}

	sort.Ints(pages)
	return PageSelection{Kind: SelectList, Pages: pages, raw: raw}, nil
}

func parseRange(raw, item string) (start, end int, open bool, err error) {
	parts := strings.SplitN(item, "-", 2)
	start, err = parsePage(raw, parts[0])
	if err != nil {
		return 0, 0, false, err
	}

	endText := strings.TrimSpace(parts[1])
	if strings.EqualFold(endText, "end") {
		return start, 0, true, nil
	}

	end, err = parsePage(raw, endText)
	if err != nil {
		return 0, 0, false, err
	}
	if start > end {
		return 0, 0, false, &SelectionError{Input: raw, Reason: fmt.Sprintf("range start %d is after end %d", start, end)}
	}
	return start, end, false, nil
}

func parsePage(raw, text string) (int, error) {
	text = strings.TrimSpace(text)
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, &SelectionError{Input: raw, Reason: fmt.Sprintf("%q is not a page number", text)}
	}
	if n < 1 {
		return 0, &SelectionError{Input: raw, Reason: fmt.Sprintf("page %d must be 1 or greater", n)}
	}
	return n, nil
}

// Resolve returns the ascending list of pages to process for a document with
// pageCount pages. Pages past the end of the document are a SelectionError.
func (s PageSelection) Resolve(pageCount int) ([]int, error) {
	if pageCount < 1 {
		return nil, ErrDocumentUnreadable
	}

	outOfRange := func(p int) error {
		return &SelectionError{Input: s.String(), Reason: fmt.Sprintf("page out of range: %d > %d", p, pageCount)}
	}

	switch s.Kind {
	case SelectAll:
		return pageSpan(1, pageCount), nil
	case SelectSingle:
		if s.Start > pageCount {
			return nil, outOfRange(s.Start)
		}
		return []int{s.Start}, nil
	case SelectRange:
		end := s.End
		if s.OpenEnd {
			end = pageCount
		}
		if s.Start > pageCount {
			return nil, outOfRange(s.Start)
		}
		if end > pageCount {
			return nil, outOfRange(end)
		}
		return pageSpan(s.Start, end), nil
	case SelectList:
		if last := s.Pages[len(s.Pages)-1]; last > pageCount {
			return nil, outOfRange(last)
		}
		out := make([]int, len(s.Pages))
		copy(out, s.Pages)
		return out, nil
	default:
		return nil, &SelectionError{Input: s.String(), Reason: "unknown selection kind"}
	}
}

func pageSpan(start, end int) []int {
	pages := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		pages = append(pages, p)
	}
	return pages
}
