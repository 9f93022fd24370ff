package main

import "stripd/internal/ctl"

func main() {
	ctl.Main()
}
