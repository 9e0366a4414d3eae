// Copyright (C) The TAP-seq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	"github.com/tapseq/tapseq"
)

func main() {
	tapseq.Main()
}
