package main

import (
	"flag"
	"log"
	"path/filepath"
	"strings"

	"github.com/danmuck/entslink/internal/config"
)

func main() {
	format := flag.String("format", "toml", "config format: toml|yaml")
	output := flag.String("output", "", "output path for config template (defaults to cmd/nodesim/config.<format>)")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to the output path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	target := *output
	if target == "" {
		ext := strings.ToLower(strings.TrimSpace(*format))
		if ext == "yml" {
			ext = "yaml"
		}
		target = filepath.Join("cmd", "nodesim", "config."+ext)
	}

	if *validate {
		path := *input
		if path == "" {
			path = target
		}
		cfg, err := config.Load(path)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s (bus=%s addr=0x%02X)", cfg.Name, path, cfg.Bus.Kind, cfg.Bus.Address)
		return
	}

	if err := config.WriteTemplate(target, *format, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *format, target)
}
