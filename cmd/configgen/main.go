package main

import (
	"flag"
	"log"

	"github.com/danmuck/echoctl/internal/config"
	"github.com/danmuck/echoctl/internal/transfer"
)

func main() {
	kind := flag.String("kind", config.KindClient, "config kind: client|server")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			p, err := config.DefaultPath(*kind)
			if err != nil {
				log.Fatal(err)
			}
			path = p
		}

		switch *kind {
		case config.KindClient:
			if _, err := config.LoadClientConfig(path, transfer.DefaultConfig()); err != nil {
				log.Fatal(err)
			}
		case config.KindServer:
			if _, err := config.LoadEchoServerConfig(path); err != nil {
				log.Fatal(err)
			}
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		p, err := config.DefaultPath(*kind)
		if err != nil {
			log.Fatal(err)
		}
		target = p
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
