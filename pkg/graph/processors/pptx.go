package processors

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/athapong/docgraph/pkg/graph"
)

var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// PPTXProcessor turns each slide into a page with one element per text
// shape. Title placeholders become headings.
type PPTXProcessor struct {
	maxSlides int
}

func NewPPTXProcessor(maxSlides int) *PPTXProcessor {
	return &PPTXProcessor{maxSlides: maxSlides}
}

type slideFile struct {
	number int
	file   *zip.File
}

type slideShape struct {
	text  string
	title bool
}

func (p *PPTXProcessor) Process(ctx context.Context, content []byte) (*Extraction, error) {
	r, err := openZip(content)
	if err != nil {
		return nil, err
	}

	var slides []slideFile
	for _, f := range r.File {
		if m := slideName.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slideFile{number: n, file: f})
		}
	}
	if len(slides) == 0 {
		return nil, fmt.Errorf("no slides found in archive")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].number < slides[j].number })
	if p.maxSlides > 0 && len(slides) > p.maxSlides {
		slides = slides[:p.maxSlides]
	}

	pages := make([][]graph.Element, 0, len(slides))
	for idx, s := range slides {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		shapes, err := parseSlide(s.file)
		if err != nil {
			return nil, err
		}

		elements := make([]graph.Element, 0, len(shapes))
		for i, shape := range shapes {
			typ := graph.ElementParagraph
			if shape.title {
				typ = graph.ElementHeading
			}
			elements = append(elements, graph.Element{
				ID:         fmt.Sprintf("shape_%d_%d", idx+1, i),
				Type:       typ,
				Text:       shape.text,
				BBox:       fullPage(),
				Confidence: 1,
			})
		}
		pages = append(pages, elements)
	}

	return &Extraction{Layouts: synthesized(pages...)}, nil
}

// parseSlide collects the text of every shape in document order, one line
// per paragraph.
func parseSlide(f *zip.File) ([]slideShape, error) {
	decoder, closer, err := zipDecoder(f)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var (
		shapes  []slideShape
		current *slideShape
		lines   []string
		line    strings.Builder
		inText  bool
	)

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "sp":
				current = &slideShape{}
				lines = nil
			case "ph":
				if current != nil {
					switch attr(t, "type") {
					case "title", "ctrTitle":
						current.title = true
					}
				}
			case "p":
				line.Reset()
			case "t":
				inText = true
			}

		case xml.CharData:
			if inText && current != nil {
				line.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if current != nil {
					if s := strings.TrimSpace(line.String()); s != "" {
						lines = append(lines, s)
					}
				}
			case "sp":
				if current != nil && len(lines) > 0 {
					current.text = strings.Join(lines, "\n")
					shapes = append(shapes, *current)
				}
				current = nil
			}
		}
	}

	return shapes, nil
}

func (p *PPTXProcessor) SupportedTypes() []string {
	return []string{".pptx"}
}
