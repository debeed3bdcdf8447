package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/nulzo/inference-gateway/internal/cli"
	"github.com/nulzo/inference-gateway/internal/connector"
	"github.com/nulzo/inference-gateway/internal/registry"
	"github.com/nulzo/inference-gateway/internal/store/cache"
	"github.com/nulzo/inference-gateway/internal/store/model"
	"github.com/nulzo/inference-gateway/internal/store/sqlite"
	"go.uber.org/zap"
)

var sampleConnectors = []model.Connector{
	{ID: "docs-crawler", Name: "Docs crawler", IndexName: "search-docs", ServiceType: "web", IsNative: false},
	{ID: "github-issues", Name: "GitHub issues", IndexName: "search-github", ServiceType: "github", IsNative: true},
	{ID: "postgres-catalog", Name: "Product catalog", IndexName: "search-products", ServiceType: "postgresql", IsNative: true},
	{ID: "s3-archive", Name: "S3 archive", IndexName: "search-archive", ServiceType: "s3", IsNative: true},
	{ID: "sharepoint", Name: "SharePoint online", IndexName: "search-intranet", ServiceType: "sharepoint_online", IsNative: false},
}

func main() {
	dsn := flag.String("db", "gateway.db", "SQLite DSN")
	endpointsFile := flag.String("endpoints", "", "YAML file with inference endpoints")
	withConnectors := flag.Bool("connectors", true, "Insert sample connectors")
	export := flag.String("export", "", "Write every stored endpoint into this YAML catalogue")
	reset := flag.Bool("reset", false, "Drop and recreate the schema before seeding")
	flag.Parse()

	if *reset {
		if err := sqlite.Reset(*dsn); err != nil {
			log.Fatalf("failed to reset %s: %v", *dsn, err)
		}
		fmt.Printf("%s schema reset\n", cli.CheckMark())
	}

	repo, err := sqlite.NewSQLiteStorage(*dsn, zap.NewNop())
	if err != nil {
		log.Fatal(err)
	}
	defer repo.Close()

	ctx := context.Background()

	store := registry.NewStore(repo, cache.NewMemoryCache(), time.Minute, zap.NewNop())

	if *endpointsFile != "" {
		endpoints, err := registry.LoadFile(*endpointsFile)
		if err != nil {
			log.Fatal(err)
		}
		for _, e := range endpoints {
			stored, err := store.Put(ctx, e)
			if err != nil {
				log.Fatalf("failed to seed endpoint %s: %v", e.InferenceID, err)
			}
			fmt.Printf("%s endpoint %s\n%s\n", cli.CheckMark(), stored.InferenceID, cli.PrettyFormat(stored))
		}
	}

	if *withConnectors {
		svc := connector.NewService(repo.Connectors(), connector.DefaultSize)
		for _, c := range sampleConnectors {
			c.CreatedAt = time.Now().UTC()
			if err := svc.Create(ctx, &c); err != nil {
				log.Printf("%s connector %s might already exist: %v", cli.WarningSign(), c.ID, err)
				continue
			}
			fmt.Printf("%s connector %s\n", cli.CheckMark(), c.ID)
		}
	}

	if *export != "" {
		endpoints, err := store.List(ctx, "")
		if err != nil {
			log.Fatal(err)
		}
		if err := registry.SaveFile(*export, endpoints); err != nil {
			log.Fatalf("failed to export endpoints: %v", err)
		}
		fmt.Printf("%s exported %d endpoints to %s\n", cli.CheckMark(), len(endpoints), *export)
	}

	fmt.Printf("\nSuccessfully seeded %s\n", *dsn)
}
