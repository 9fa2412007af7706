package main

import (
	"go.brendoncarroll.net/star"

	"zkc.dev/zkc/zkccmd"
)

func main() {
	star.Main(zkccmd.Root())
}
