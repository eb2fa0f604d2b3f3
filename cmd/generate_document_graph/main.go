package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"

	"github.com/athapong/docgraph/pkg/graph"
	"github.com/athapong/docgraph/pkg/graph/embedding"
	"github.com/athapong/docgraph/pkg/graph/processors"
	"github.com/athapong/docgraph/pkg/graph/storage"
	"github.com/athapong/docgraph/pkg/graph/visualizer"
	"github.com/athapong/docgraph/pkg/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	input           = flag.String("input", "", "Layout JSON file, document file, or directory of them")
	outputDir       = flag.String("output", "graphs", "Directory the document graphs are written to")
	visualize       = flag.Bool("visualize", false, "Generate a visualization of each document graph")
	visualizeOutput = flag.String("viz-output", "graphs/html", "Directory for the visualizations")
	neo4jURI        = flag.String("neo4j-uri", os.Getenv("NEO4J_URI"), "Also export graphs to this Neo4j instance")
	neo4jUser       = flag.String("neo4j-user", os.Getenv("NEO4J_USERNAME"), "Neo4j username")
	neo4jPassword   = flag.String("neo4j-password", os.Getenv("NEO4J_PASSWORD"), "Neo4j password")
	dimension       = flag.Int("dim", embedding.DefaultDimension, "Embedding dimension")
	logLevel        = flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	// Configure logging
	logger := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatalf("Invalid log level: %v", err)
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if *input == "" {
		logger.Fatal("Input must be specified")
	}

	registry := processors.NewRegistry(processors.DefaultLimits)
	files, err := inputFiles(*input, registry)
	if err != nil {
		logger.Fatalf("Failed to read input: %v", err)
	}
	if len(files) == 0 {
		logger.Fatal("No input files found")
	}

	stores := []storage.GraphStore{storage.NewJSONGraphStore(*outputDir)}
	if *neo4jURI != "" {
		neo, err := storage.NewNeo4jStorage(*neo4jURI, *neo4jUser, *neo4jPassword)
		if err != nil {
			logger.Fatalf("Failed to connect to Neo4j: %v", err)
		}
		defer neo.Close()
		stores = append(stores, neo)
	}

	ctx := context.Background()
	builder := graph.NewBuilder(embedding.NewHashEmbedder(*dimension), logger)

	logger.Infof("Processing %d input files...", len(files))
	built := 0
	for _, file := range files {
		log := logger.WithField("file", file)

		pages, err := layouts(ctx, registry, file)
		if err != nil {
			log.Errorf("Failed to extract layouts: %v", err)
			continue
		}

		documentID := store.NewID()
		g, err := builder.Build(ctx, pages, documentID)
		if err != nil {
			log.Errorf("Failed to build graph: %v", err)
			continue
		}
		wire := graph.ToWireFormat(g)

		for _, gs := range stores {
			if err := gs.StoreGraph(ctx, wire); err != nil {
				log.Errorf("Failed to store graph: %v", err)
			}
		}
		built++
		log.WithField("document_id", documentID).Infof("Document graph generated with %d nodes and %d edges",
			wire.NodeCount, wire.EdgeCount)

		// Visualize the graph if requested
		if *visualize {
			out := filepath.Join(*visualizeOutput, documentID+".html")
			viz := visualizer.NewD3Visualizer(out)
			if err := viz.Visualize(wire); err != nil {
				log.Errorf("Failed to visualize document graph: %v", err)
			} else {
				log.Infof("Visualization saved to %s", out)
			}
		}
	}

	logger.Infof("%d of %d document graphs saved to %s", built, len(files), *outputDir)
	if built == 0 {
		os.Exit(1)
	}
}

// layouts reads page layouts from a layout JSON file, or extracts them from
// a document whose format needs no recognition.
func layouts(ctx context.Context, registry *processors.Registry, file string) ([]graph.PageLayout, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(file), ".json") {
		return graph.ParsePages(content)
	}

	proc, err := registry.For(file)
	if err != nil {
		return nil, err
	}
	ex, err := proc.Process(ctx, content)
	if err != nil {
		return nil, err
	}
	if ex.Paginated {
		return nil, errors.New("format needs vision recognition; process it through the server instead")
	}
	return ex.Layouts, nil
}

// inputFiles lists the layout and document files under path.
func inputFiles(path string, registry *processors.Registry) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	supported := map[string]bool{".json": true}
	for _, ext := range registry.Extensions() {
		supported[ext] = true
	}

	var files []string
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && supported[strings.ToLower(filepath.Ext(p))] {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}
