package main

// Include the GoMLX backends.

import (
	_ "github.com/gomlx/gomlx/backends/default"
)
