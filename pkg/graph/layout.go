package graph

import (
	"fmt"
	"strings"

	"github.com/athapong/docgraph/pkg/graph/normalize"
	"github.com/tidwall/gjson"
)

// ParsePages decodes an array of page layouts as produced by recognition:
// [{"page_number": 1, "layout": {"elements": [...], "relationships": [...]}}].
// Structural problems are reported as *MalformedInputError. Individual
// elements that cannot be used are skipped.
func ParsePages(raw []byte) ([]PageLayout, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &MalformedInputError{Reason: "input is not valid JSON"}
	}
	root := gjson.ParseBytes(raw)
	if !root.IsArray() {
		return nil, &MalformedInputError{Reason: "input must be an array of page layouts"}
	}

	var pages []PageLayout
	for i, page := range root.Array() {
		p, err := parsePage(i, page)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	if pages == nil {
		pages = []PageLayout{}
	}
	return pages, nil
}

func parsePage(position int, page gjson.Result) (PageLayout, error) {
	if !page.IsObject() {
		return PageLayout{}, &MalformedInputError{Reason: fmt.Sprintf("page at position %d is not an object", position)}
	}

	num := page.Get("page_number")
	if !num.Exists() || num.Type != gjson.Number {
		return PageLayout{}, &MalformedInputError{Reason: fmt.Sprintf("page at position %d has no page_number", position)}
	}
	pageNumber := int(num.Int())
	if pageNumber <= 0 {
		return PageLayout{}, &MalformedInputError{Page: pageNumber, Reason: "page_number must be positive"}
	}

	layout := page.Get("layout")
	if !layout.Exists() {
		return PageLayout{}, &MalformedInputError{Page: pageNumber, Reason: "missing layout"}
	}

	l, err := parseLayout(pageNumber, layout)
	if err != nil {
		return PageLayout{}, err
	}

	p := PageLayout{
		PageNumber: pageNumber,
		Layout:     l,
		Error:      page.Get("error").String(),
	}
	if details := page.Get("chart_details"); details.IsArray() {
		for _, d := range details.Array() {
			if m, ok := d.Value().(map[string]any); ok {
				p.ChartDetails = append(p.ChartDetails, m)
			}
		}
	}
	return p, nil
}

// ParseLayout decodes the {"elements": [...], "relationships": [...]} object
// recognition returns for a single page.
func ParseLayout(pageNumber int, raw []byte) (Layout, error) {
	if !gjson.ValidBytes(raw) {
		return Layout{}, &MalformedInputError{Page: pageNumber, Reason: "layout is not valid JSON"}
	}
	return parseLayout(pageNumber, gjson.ParseBytes(raw))
}

func parseLayout(pageNumber int, layout gjson.Result) (Layout, error) {
	if !layout.IsObject() {
		return Layout{}, &MalformedInputError{Page: pageNumber, Reason: "layout is not an object"}
	}

	l := Layout{
		Elements:      []Element{},
		Relationships: []LayoutRelationship{},
	}

	elements := layout.Get("elements")
	if elements.Exists() && !elements.IsArray() {
		return Layout{}, &MalformedInputError{Page: pageNumber, Reason: "elements is not an array"}
	}
	for _, el := range elements.Array() {
		if e, ok := parseElement(pageNumber, el); ok {
			l.Elements = append(l.Elements, e)
		}
	}

	rels := layout.Get("relationships")
	if rels.Exists() && !rels.IsArray() {
		return Layout{}, &MalformedInputError{Page: pageNumber, Reason: "relationships is not an array"}
	}
	for _, r := range rels.Array() {
		if !r.IsObject() {
			continue
		}
		from, to := r.Get("from").String(), r.Get("to").String()
		if from == "" || to == "" {
			continue
		}
		l.Relationships = append(l.Relationships, LayoutRelationship{
			From: from,
			To:   to,
			Type: r.Get("type").String(),
		})
	}

	return l, nil
}

func parseElement(pageNumber int, el gjson.Result) (Element, bool) {
	if !el.IsObject() {
		return Element{}, false
	}
	id := strings.TrimSpace(el.Get("id").String())
	if id == "" {
		return Element{}, false
	}

	e := Element{
		ID:         id,
		Page:       pageNumber,
		Type:       ElementType(el.Get("type").String()),
		Text:       el.Get("text").String(),
		BBox:       BBox{},
		Confidence: el.Get("confidence").Float(),
		IsChart:    el.Get("is_chart").Bool(),
	}
	for _, v := range el.Get("bbox").Array() {
		if v.Type == gjson.Number {
			e.BBox = append(e.BBox, v.Float())
		}
	}

	meta := el.Get("metadata")
	if rows := cellRows(meta.Get("table_structure.cell_text")); len(rows) > 0 {
		t := normalize.TableFromRows(rows)
		e.Table = &t
	}

	if e.IsChart || e.Type == ElementChart {
		chart := &ChartMetadata{
			ChartType:   meta.Get("chart_type").String(),
			Title:       meta.Get("chart_title").String(),
			XAxisLabels: stringList(meta.Get("chart_axes.x_axis_labels")),
			YAxisLabels: stringList(meta.Get("chart_axes.y_axis_labels")),
		}
		if chart.ChartType != "" || chart.Title != "" || len(chart.XAxisLabels) > 0 || len(chart.YAxisLabels) > 0 {
			e.Chart = chart
		}
	}

	return e, true
}

// cellRows accepts cell_text either as a nested array or as a string
// holding one.
func cellRows(v gjson.Result) [][]string {
	if v.Type == gjson.String {
		if !gjson.Valid(v.Str) {
			return nil
		}
		v = gjson.Parse(v.Str)
	}
	if !v.IsArray() {
		return nil
	}
	var rows [][]string
	for _, row := range v.Array() {
		if !row.IsArray() {
			continue
		}
		cells := make([]string, 0, len(row.Array()))
		for _, c := range row.Array() {
			cells = append(cells, c.String())
		}
		rows = append(rows, cells)
	}
	return rows
}

func stringList(v gjson.Result) []string {
	if !v.IsArray() {
		return nil
	}
	out := make([]string, 0, len(v.Array()))
	for _, s := range v.Array() {
		out = append(out, s.String())
	}
	return out
}
