package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joshsymonds/mailfold/internal/rules"
	"github.com/joshsymonds/mailfold/internal/runtime"
)

func main() {
	rulesPath := flag.String("rules", "rules.json", "rules JSON file")
	flag.Parse()

	if err := run(*rulesPath); err != nil {
		var verr *rules.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(os.Stderr, "invalid: %v\n", verr)
		} else {
			runtime.DefaultLogger().Error("mailfold-validate failed", "error", err)
		}
		os.Exit(1)
	}
}

func run(path string) error {
	defs, err := rules.Load(path)
	if err != nil {
		return err
	}
	ruleSet, err := rules.Compile(defs)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d rules ok\n", path, len(ruleSet))
	return nil
}
