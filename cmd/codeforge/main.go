// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/noldarim/codeforge/internal/cli"
	"github.com/noldarim/codeforge/internal/logger"
)

func main() {
	err := cli.Execute()
	logger.CloseGlobal()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
