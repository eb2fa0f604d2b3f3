package visualizer

import (
	"bytes"
	"encoding/json"
	"html/template"
	"io"
	"os"
	"path/filepath"

	"github.com/athapong/docgraph/pkg/graph"
)

const d3Template = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>{{.Title}}</title>
    <script src="https://d3js.org/d3.v7.min.js"></script>
    <style>
        body { 
            margin: 0;
            font-family: Arial, sans-serif;
        }
        #graph {
            width: 100%;
            height: 100vh;
            background-color: #f5f5f5;
        }
        .node {
            stroke: #fff;
            stroke-width: 1.5px;
        }
        .link {
            stroke: #999;
            stroke-opacity: 0.6;
        }
        .node-label {
            font-size: 10px;
            pointer-events: none;
        }
        .controls {
            position: absolute;
            top: 10px;
            left: 10px;
            background-color: rgba(255,255,255,0.8);
            padding: 10px;
            border-radius: 5px;
            box-shadow: 0 0 10px rgba(0,0,0,0.1);
        }
    </style>
</head>
<body>
    <div id="graph"></div>
    <div class="controls">
        <h3>{{.Title}}</h3>
        <p>Pages: {{.PageCount}}, Elements: {{.NodeCount}}, Relationships: {{.EdgeCount}}</p>
        <div>
            <label for="node-type-filter">Element type:</label>
            <select id="node-type-filter">
                <option value="all">All Types</option>
            </select>
        </div>
        <div>
            <label for="page-filter">Page:</label>
            <select id="page-filter">
                <option value="all">All Pages</option>
            </select>
        </div>
    </div>

    <script>
        // Graph data
        const graphData = {{.GraphData}};
        
        const links = graphData.edges.map(e => ({source: e.source, target: e.target, type: e.relationshipType}));

        // Lay pages out left to right, elements of a page attract each other
        const pages = [...new Set(graphData.nodes.map(n => n.page))].sort((a, b) => a - b);
        const pageX = d3.scalePoint().domain(pages).range([200, window.innerWidth - 200]).padding(0.5);

        const simulation = d3.forceSimulation(graphData.nodes)
            .force("link", d3.forceLink(links).id(d => d.id).distance(d => d.type === "follows" ? 40 : 80))
            .force("x", d3.forceX(d => pageX(d.page)).strength(0.2))
            .force("charge", d3.forceManyBody().strength(-300))
            .force("center", d3.forceCenter(window.innerWidth / 2, window.innerHeight / 2));

        // Create SVG element
        const svg = d3.select("#graph")
            .append("svg")
            .attr("width", "100%")
            .attr("height", "100%")
            .call(d3.zoom().on("zoom", (event) => {
                g.attr("transform", event.transform);
            }));

        const g = svg.append("g");

        svg.append("defs").append("marker")
            .attr("id", "arrow")
            .attr("viewBox", "0 -5 10 10")
            .attr("refX", 16)
            .attr("markerWidth", 6)
            .attr("markerHeight", 6)
            .attr("orient", "auto")
            .append("path")
            .attr("d", "M0,-5L10,0L0,5")
            .attr("fill", "#999");

        const nodeTypes = [...new Set(graphData.nodes.map(node => node.type))];
        const colorScale = d3.scaleOrdinal(d3.schemeCategory10).domain(nodeTypes);

        const edgeTypes = [...new Set(links.map(l => l.type))];
        const edgeColor = d3.scaleOrdinal(d3.schemeSet2).domain(edgeTypes);

        nodeTypes.forEach(type => {
            d3.select("#node-type-filter").append("option").attr("value", type).text(type);
        });
        pages.forEach(p => {
            d3.select("#page-filter").append("option").attr("value", p).text("Page " + p);
        });

        // Create links
        const link = g.append("g")
            .selectAll("line")
            .data(links)
            .enter()
            .append("line")
            .attr("class", "link")
            .attr("stroke", d => edgeColor(d.type))
            .attr("stroke-dasharray", d => d.type === "follows" ? "4 2" : null)
            .attr("marker-end", "url(#arrow)");

        // Create nodes
        const node = g.append("g")
            .selectAll("circle")
            .data(graphData.nodes)
            .enter()
            .append("circle")
            .attr("class", "node")
            .attr("r", d => 5 + 5 * d.confidence)
            .attr("fill", d => colorScale(d.type))
            .call(d3.drag()
                .on("start", dragstarted)
                .on("drag", dragged)
                .on("end", dragended));

        // Add labels to nodes
        const label = g.append("g")
            .selectAll("text")
            .data(graphData.nodes)
            .enter()
            .append("text")
            .attr("class", "node-label")
            .attr("dx", 12)
            .attr("dy", ".35em")
            .text(d => d.elementId);

        node.append("title")
            .text(d => d.summary);

        // Link tooltip
        link.append("title")
            .text(d => d.type);

        // Update positions on simulation tick
        simulation.on("tick", () => {
            link
                .attr("x1", d => d.source.x)
                .attr("y1", d => d.source.y)
                .attr("x2", d => d.target.x)
                .attr("y2", d => d.target.y);

            node
                .attr("cx", d => d.x)
                .attr("cy", d => d.y);

            label
                .attr("x", d => d.x)
                .attr("y", d => d.y);
        });

        function applyFilters() {
            const type = d3.select("#node-type-filter").property("value");
            const page = d3.select("#page-filter").property("value");
            const visible = d => (type === "all" || d.type === type) && (page === "all" || String(d.page) === page);

            node.style("visibility", d => visible(d) ? "visible" : "hidden");
            label.style("visibility", d => visible(d) ? "visible" : "hidden");
            link.style("visibility", d => visible(d.source) && visible(d.target) ? "visible" : "hidden");
        }

        d3.select("#node-type-filter").on("change", applyFilters);
        d3.select("#page-filter").on("change", applyFilters);

        // Drag functions
        function dragstarted(event, d) {
            if (!event.active) simulation.alphaTarget(0.3).restart();
            d.fx = d.x;
            d.fy = d.y;
        }

        function dragged(event, d) {
            d.fx = event.x;
            d.fy = event.y;
        }

        function dragended(event, d) {
            if (!event.active) simulation.alphaTarget(0);
            d.fx = null;
            d.fy = null;
        }
    </script>
</body>
</html>
`

// D3Visualizer renders a document graph as a standalone D3.js page
type D3Visualizer struct {
	outputPath string
	tmpl       *template.Template
}

// NewD3Visualizer creates a new D3.js visualizer writing to outputPath
func NewD3Visualizer(outputPath string) *D3Visualizer {
	return &D3Visualizer{
		outputPath: outputPath,
		tmpl:       template.Must(template.New("d3").Parse(d3Template)),
	}
}

// Render writes the HTML page for g to w.
func (v *D3Visualizer) Render(w io.Writer, g *graph.WireGraph) error {
	graphData, err := json.Marshal(g)
	if err != nil {
		return err
	}

	pages := make(map[int]struct{})
	for _, n := range g.Nodes {
		pages[n.Page] = struct{}{}
	}

	data := struct {
		Title     string
		GraphData template.JS
		PageCount int
		NodeCount int
		EdgeCount int
	}{
		Title:     "Document " + g.DocumentID,
		GraphData: template.JS(graphData),
		PageCount: len(pages),
		NodeCount: g.NodeCount,
		EdgeCount: g.EdgeCount,
	}

	return v.tmpl.Execute(w, data)
}

// Visualize renders g to the configured output file
func (v *D3Visualizer) Visualize(g *graph.WireGraph) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(v.outputPath), 0755); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := v.Render(&buf, g); err != nil {
		return err
	}

	return os.WriteFile(v.outputPath, buf.Bytes(), 0644)
}
