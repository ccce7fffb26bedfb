// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command diagreport captures, stores and serves diagnostic reports.
//
// Usage:
//
//	diagreport demo [--panic|--fatal|--wait 30s]
//	diagreport report [--json] [--section NAME]
//	diagreport list [--archive]
//	diagreport show NAME [--section NAME]
//	diagreport prune [--max-age 720h] [--max-count 100]
//	diagreport serve [--addr 127.0.0.1:9464]
//	diagreport config init|show
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
