package main

import (
	"context"
	"fmt"
	"os"
)

func (cli *commandLine) importSchools(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	res, err := cli.schSvc.ImportCSV(context.Background(), f)
	if err != nil {
		return err
	}

	fmt.Printf("imported %d school(s)\n", res.Created)
	for _, rowErr := range res.Errors {
		fmt.Printf("  row %d skipped: %s\n", rowErr.Row, rowErr.Error)
	}
	return nil
}
